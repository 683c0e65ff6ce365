// Package export exposes upload results to subsequent build steps through envman.
package export

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/pathutil"
)

// Output keys.
const (
	LocationKey  = "UPLOAD_LOCATION"
	ObjectKeyKey = "UPLOAD_OBJECT_KEY"
	StatusKey    = "UPLOAD_STATUS"
	StatePathKey = "UPLOAD_STATE_PATH"
)

// Exporter ...
type Exporter struct {
	cmdFactory  command.Factory
	fileManager fileutil.FileManager
}

// NewExporter ...
func NewExporter(cmdFactory command.Factory) Exporter {
	return Exporter{
		cmdFactory:  cmdFactory,
		fileManager: fileutil.NewFileManager(),
	}
}

// ExportOutput is used for exposing values for other steps.
// Regular env vars are isolated between steps, so instead of calling `os.Setenv()`, use this to explicitly expose
// a value for subsequent steps.
func (e *Exporter) ExportOutput(key, value string) error {
	cmd := e.cmdFactory.Create("envman", []string{"add", "--key", key, "--value", value}, nil)
	return runExport(cmd)
}

// ExportOutputNoExpand works like ExportOutput but does not expand environment variables in the value.
// Locations and object keys come from the backend and are exported with this.
func (e *Exporter) ExportOutputNoExpand(key, value string) error {
	cmd := e.cmdFactory.Create("envman", []string{"add", "--key", key, "--value", value, "--no-expand"}, nil)
	return runExport(cmd)
}

// ExportUploadResult exports the final status of an upload, and the location and object key
// when they are known.
func (e *Exporter) ExportUploadResult(status, location, objectKey string) error {
	if err := e.ExportOutput(StatusKey, status); err != nil {
		return err
	}
	if location != "" {
		if err := e.ExportOutputNoExpand(LocationKey, location); err != nil {
			return err
		}
	}
	if objectKey != "" {
		if err := e.ExportOutputNoExpand(ObjectKeyKey, objectKey); err != nil {
			return err
		}
	}
	return nil
}

// ExportOutputFileContent writes content to dst and exports the absolute path of dst.
func (e *Exporter) ExportOutputFileContent(content, dst, envKey string) error {
	absDst, err := pathutil.NewPathModifier().AbsPath(dst)
	if err != nil {
		return err
	}
	if err := e.fileManager.WriteBytes(absDst, []byte(content)); err != nil {
		return err
	}

	return e.ExportOutput(envKey, absDst)
}

func runExport(cmd command.Command) error {
	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		return fmt.Errorf("exporting output with envman failed: %s, output: %s", err, out)
	}
	return nil
}
