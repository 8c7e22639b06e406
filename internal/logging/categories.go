package logging

// Convenience wrappers for the hot categories. Info-level variants carry the
// category name; *Debug variants log at debug level.

func Session(format string, args ...any)      { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...any) { Get(CategorySession).Debug(format, args...) }

func Loop(format string, args ...any)      { Get(CategoryLoop).Info(format, args...) }
func LoopDebug(format string, args ...any) { Get(CategoryLoop).Debug(format, args...) }

func Context(format string, args ...any)      { Get(CategoryContext).Info(format, args...) }
func ContextDebug(format string, args ...any) { Get(CategoryContext).Debug(format, args...) }

func Tools(format string, args ...any)      { Get(CategoryTools).Info(format, args...) }
func ToolsDebug(format string, args ...any) { Get(CategoryTools).Debug(format, args...) }

func Permission(format string, args ...any)      { Get(CategoryPermission).Info(format, args...) }
func PermissionDebug(format string, args ...any) { Get(CategoryPermission).Debug(format, args...) }

func Agent(format string, args ...any)      { Get(CategoryAgent).Info(format, args...) }
func AgentDebug(format string, args ...any) { Get(CategoryAgent).Debug(format, args...) }

func Shell(format string, args ...any)      { Get(CategoryShell).Info(format, args...) }
func ShellDebug(format string, args ...any) { Get(CategoryShell).Debug(format, args...) }

func Store(format string, args ...any)      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...any) { Get(CategoryStore).Debug(format, args...) }

func API(format string, args ...any)      { Get(CategoryAPI).Info(format, args...) }
func APIDebug(format string, args ...any) { Get(CategoryAPI).Debug(format, args...) }
