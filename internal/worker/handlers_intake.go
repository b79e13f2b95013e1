package worker

import (
	"net/http"

	"github.com/thebtf/hemoscan/pkg/models"
)

func (s *Service) handleListImages(w http.ResponseWriter, r *http.Request) {
	images := s.workingSet.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"images": images,
		"count":  len(images),
	})
}

type addImageRequest struct {
	URI        string            `json:"uri"`
	SampleType models.SampleType `json:"sample_type"`
}

func (s *Service) handleAddImage(w http.ResponseWriter, r *http.Request) {
	var req addImageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URI == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}
	if !models.ValidSampleType(req.SampleType) {
		writeError(w, http.StatusBadRequest, "invalid sample type")
		return
	}

	s.AddImage(req.URI, req.SampleType)
	writeJSON(w, http.StatusAccepted, map[string]string{"uri": req.URI})
}

type discardImageRequest struct {
	URI string `json:"uri"`
}

func (s *Service) handleDiscardImage(w http.ResponseWriter, r *http.Request) {
	var req discardImageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URI == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}

	s.workingSet.Discard(req.URI)
	writeJSON(w, http.StatusOK, map[string]string{"discarded": req.URI})
}
