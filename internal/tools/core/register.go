package core

import (
	"tandem/internal/tools"
)

// Register installs the file and search tools into the registry. The locker
// is shared with any other package registering mutating file tools so all
// edits serialize per path.
func Register(reg *tools.Registry, locker *tools.FileLocker, workdir string) error {
	catalogue := []tools.Tool{
		FileReadTool(),
		FileWriteTool(locker),
		FileEditTool(locker),
		GlobTool(workdir),
		GrepTool(workdir),
	}
	for i := range catalogue {
		if err := reg.Register(&catalogue[i]); err != nil {
			return err
		}
	}
	return nil
}
