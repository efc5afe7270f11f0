package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"orderflow/review"
)

type createReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var req createReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	rev, err := s.reviews.Create(r.Context(), mux.Vars(r)["id"], callerID(r), req.Rating, req.Comment)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rev)
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.reviews.ListByTechnician(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	if reviews == nil {
		reviews = []review.Review{}
	}
	respondJSON(w, http.StatusOK, reviews)
}
