package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/logger"
	"bank-reconciliation-backend/internal/services/importer"
)

const maxUploadBytes = 32 << 20

// readUpload returns the "file" part of a multipart form.
func readUpload(c *gin.Context) (string, []byte, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return "", nil, errors.New("file required")
	}
	if header.Size > maxUploadBytes {
		return "", nil, errors.New("file is too large")
	}
	file, err := header.Open()
	if err != nil {
		return "", nil, errors.New("cannot read file")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return "", nil, errors.New("cannot read file")
	}
	log := logger.FromContext(c.Request.Context())
	log.Debug().
		Str("file", header.Filename).
		Int64("size", header.Size).
		Msg("upload received")
	return header.Filename, data, nil
}

// formMapping decodes the optional "mapping" form field, a JSON object of
// canonical field name to file header.
func formMapping(c *gin.Context) (map[string]string, error) {
	raw := c.PostForm("mapping")
	if raw == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, errors.New("invalid mapping, expected a JSON object")
	}
	return m, nil
}

func formUUID(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := c.PostForm(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, errors.New("invalid " + name)
	}
	return &id, nil
}

func (h *ReconciliationHandler) PreviewImport(c *gin.Context) {
	name, data, err := readUpload(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	mapping, err := formMapping(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	preview, err := h.importer.Preview(c.Request.Context(), importer.PreviewRequest{
		FileName: name,
		Data:     data,
		Mapping:  mapping,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *ReconciliationHandler) Import(c *gin.Context) {
	name, data, err := readUpload(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	dept, err := formUUID(c, "department_id")
	if err != nil || dept == nil {
		badRequest(c, "department_id is required")
		return
	}
	org, err := formUUID(c, "organization_id")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	mapping, err := formMapping(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.importer.Import(c.Request.Context(), importer.ImportRequest{
		DepartmentID:   *dept,
		OrganizationID: org,
		FileName:       name,
		Source:         c.PostForm("source"),
		Data:           data,
		Mapping:        mapping,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
