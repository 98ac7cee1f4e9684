// http/handlers.go
package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/ViniZap4/ytnotes-server/coordinator"
	"github.com/ViniZap4/ytnotes-server/notes"
)

type StoreController struct {
	svc   *notes.Service
	coord *coordinator.Coordinator
}

func NewStoreController(svc *notes.Service, coord *coordinator.Coordinator) *StoreController {
	return &StoreController{svc: svc, coord: coord}
}

func (h *StoreController) RegisterRoutes(r fiber.Router) {
	r.Get("/store", h.GetStore)
	r.Get("/folders", h.ListFolders)
	r.Post("/folders", h.CreateFolder)
	r.Delete("/folders/:name", h.DeleteFolder)
	r.Get("/folders/:name/notes", h.ListNotes)
	r.Post("/folders/:name/notes", h.CreateNote)
	r.Delete("/folders/:name/notes/at/:index", h.DeleteNoteAt)
	r.Delete("/folders/:name/notes/:id", h.DeleteNote)
	r.Post("/messages", h.PostMessage)
}

func (h *StoreController) GetStore(c *fiber.Ctx) error {
	st, version, err := h.svc.Snapshot(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"notes": st.Notes, "folders": st.Folders, "version": version})
}

func (h *StoreController) ListFolders(c *fiber.Ctx) error {
	folders, err := h.svc.Folders(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(folders)
}

type createFolderRequest struct {
	Name string `json:"name"`
}

func (h *StoreController) CreateFolder(c *fiber.Ctx) error {
	var req createFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	name, err := h.svc.CreateFolder(c.UserContext(), req.Name)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"name": name})
}

func (h *StoreController) DeleteFolder(c *fiber.Ctx) error {
	if err := h.svc.DeleteFolder(c.UserContext(), c.Params("name")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *StoreController) ListNotes(c *fiber.Ctx) error {
	list, err := h.svc.ListNotes(c.UserContext(), c.Params("name"))
	if err != nil {
		return err
	}
	return c.JSON(list)
}

type createNoteRequest struct {
	Description string `json:"description"`
	Timestamp   *int   `json:"timestamp"`
}

func (h *StoreController) CreateNote(c *fiber.Ctx) error {
	var req createNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Timestamp == nil {
		return fiber.NewError(fiber.StatusBadRequest, "timestamp is required")
	}
	note, err := h.svc.CreateNote(c.UserContext(), c.Params("name"), req.Description, *req.Timestamp)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(note)
}

func (h *StoreController) DeleteNote(c *fiber.Ctx) error {
	note, err := h.svc.DeleteNote(c.UserContext(), c.Params("name"), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(note)
}

func (h *StoreController) DeleteNoteAt(c *fiber.Ctx) error {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "index must be an integer")
	}
	note, err := h.svc.DeleteNoteAt(c.UserContext(), c.Params("name"), index)
	if err != nil {
		return err
	}
	return c.JSON(note)
}

// PostMessage accepts a raw {"action": ...} message. Unknown actions are
// answered with handled=false.
func (h *StoreController) PostMessage(c *fiber.Ctx) error {
	resp, err := h.coord.HandleMessage(c.UserContext(), c.Body())
	if err != nil {
		return err
	}
	return c.JSON(resp)
}
