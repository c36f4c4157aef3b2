package api

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"tutor/app/middleware"
	"tutor/loader/service"
	"tutor/store"
	"tutor/types"
)

// FileHandler drops uploaded files into the loader's source folder under
// <source>/<assistant-id>/<label>/, where the loader picks them up.
type FileHandler struct {
	assistants store.AssistantStorer
	sourceDir  string
}

func NewFileHandler(assistants store.AssistantStorer, sourceDir string) *FileHandler {
	return &FileHandler{
		assistants: assistants,
		sourceDir:  sourceDir,
	}
}

func (h *FileHandler) HandleUpload(c *fiber.Ctx) error {
	id := c.Params("id")
	label := types.Label(c.FormValue("label", string(types.LabelOwn)))
	if !label.Valid() {
		return NewValidationError(map[string]string{"label": "failed on 'oneof' tag"})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}
	name := filepath.Base(fileHeader.Filename)
	if name == "." || name == string(filepath.Separator) || name[0] == '.' {
		return NewError(fiber.StatusBadRequest, "invalid file name")
	}
	if _, _, err := service.DetectMediaKind(name); err != nil {
		return err
	}

	if _, err := ownedAssistant(c.UserContext(), h.assistants, id, middleware.UserID(c)); err != nil {
		return err
	}
	if err := types.CheckID(id); err != nil {
		return err
	}

	dir := filepath.Join(h.sourceDir, id, string(label))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// the watcher skips dot files, so the upload only appears once complete
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.part", name))
	if err := c.SaveFile(fileHeader, tmp); err != nil {
		return err
	}
	dest := filepath.Join(dir, name)
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"result": "queued",
		"file":   name,
		"label":  label,
	})
}
