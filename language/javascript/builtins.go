package javascript

func (j *JavaScript) call(name string, args map[string]any) (any, error) {
	j.mu.Lock()
	ctx := j.ctx
	j.mu.Unlock()
	return j.registry.Call(ctx, name, args)
}

func (j *JavaScript) has(name string) bool {
	_, ok := j.registry.Get(name)
	return ok
}

// bindHost installs the lesson builtins whose host function is registered.
// call is always present.
func (j *JavaScript) bindHost() error {
	set := map[string]any{
		"call": func(name string, args map[string]any) (any, error) {
			return j.call(name, args)
		},
	}
	if j.has("fs_read") {
		set["read_file"] = func(path string) (any, error) {
			return j.call("fs_read", map[string]any{"path": path})
		}
	}
	if j.has("fs_write") {
		set["write_file"] = func(path, content string) (any, error) {
			return j.call("fs_write", map[string]any{"path": path, "content": content})
		}
	}
	if j.has("fs_list") {
		set["list_dir"] = func(path string) (any, error) {
			return j.call("fs_list", map[string]any{"path": path})
		}
	}
	if j.has("fs_exists") {
		set["file_exists"] = func(path string) (any, error) {
			return j.call("fs_exists", map[string]any{"path": path})
		}
	}
	if j.has("http_get") {
		set["http_get"] = func(url string) (any, error) {
			return j.call("http_get", map[string]any{"url": url})
		}
	}
	if j.has("kv_get") {
		set["kv_get"] = func(key string, def any) (any, error) {
			return j.call("kv_get", map[string]any{"key": key, "default": def})
		}
	}
	if j.has("kv_set") {
		set["kv_set"] = func(key string, value any) (any, error) {
			return j.call("kv_set", map[string]any{"key": key, "value": value})
		}
	}

	for name, fn := range set {
		if err := j.vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}
