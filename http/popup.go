package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ViniZap4/ytnotes-server/popup"
)

const sessionHeader = "X-Session-ID"

// PopupController serves the popup view. Each popup keeps its folder
// selection under the session ID it sends in X-Session-ID; responses carry
// the ID back.
type PopupController struct {
	sessions *popup.Sessions
}

func NewPopupController(sessions *popup.Sessions) *PopupController {
	return &PopupController{sessions: sessions}
}

func (h *PopupController) RegisterRoutes(r fiber.Router) {
	g := r.Group("/popup")
	g.Get("", h.Load)
	g.Delete("", h.Close)
	g.Put("/folder", h.Select)
	g.Post("/folders", h.CreateFolder)
	g.Delete("/folder", h.DeleteFolder)
	g.Post("/notes", h.AddNote)
	g.Delete("/notes/:id", h.DeleteNote)
	g.Post("/notes/:id/seek", h.Seek)
}

func (h *PopupController) controller(c *fiber.Ctx) *popup.Controller {
	ctrl, id := h.sessions.Controller(c.Get(sessionHeader))
	c.Set(sessionHeader, id)
	return ctrl
}

// Close ends the caller's session when the popup window closes.
func (h *PopupController) Close(c *fiber.Ctx) error {
	if id := c.Get(sessionHeader); id != "" {
		h.sessions.Delete(id)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *PopupController) Load(c *fiber.Ctx) error {
	v, err := h.controller(c).Load(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(v)
}

type selectRequest struct {
	Folder string `json:"folder"`
}

func (h *PopupController) Select(c *fiber.Ctx) error {
	var req selectRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	v, err := h.controller(c).Select(c.UserContext(), req.Folder)
	if err != nil {
		return err
	}
	return c.JSON(v)
}

func (h *PopupController) CreateFolder(c *fiber.Ctx) error {
	var req createFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	v, err := h.controller(c).CreateFolder(c.UserContext(), req.Name)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(v)
}

func (h *PopupController) DeleteFolder(c *fiber.Ctx) error {
	v, err := h.controller(c).DeleteFolder(c.UserContext(), c.QueryBool("confirm"))
	if err != nil {
		return err
	}
	return c.JSON(v)
}

type addNoteRequest struct {
	Description string `json:"description"`
}

func (h *PopupController) AddNote(c *fiber.Ctx) error {
	var req addNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	note, v, err := h.controller(c).AddNote(c.UserContext(), req.Description)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"note": note, "view": v})
}

func (h *PopupController) DeleteNote(c *fiber.Ctx) error {
	v, err := h.controller(c).DeleteNote(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(v)
}

func (h *PopupController) Seek(c *fiber.Ctx) error {
	if err := h.controller(c).Seek(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
