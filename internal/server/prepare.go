package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/surge/internal/batch"
	"github.com/smallbiznis/surge/internal/orgcontext"
)

type prepareRequest struct {
	HouseholdIDs []string `json:"household_ids"`
	Order        []string `json:"order"`
	PostAction   string   `json:"post_action"`
}

type archiveResponse struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Prepare accepts a batch and returns before any packet is built. Progress
// arrives on the actor's event stream.
func (s *Server) Prepare(c *gin.Context) {
	id, ok := surgeIDParam(c)
	if !ok {
		return
	}
	var req prepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	householdIDs, ok := householdIDsParam(c, req.HouseholdIDs)
	if !ok {
		return
	}
	order, ok := householdIDsParam(c, req.Order)
	if !ok {
		return
	}
	action, err := batch.ParsePostAction(req.PostAction)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	// Scopes the surge to the caller's organization before any work starts.
	if _, err := s.surgeSvc.Get(ctx, id); err != nil {
		AbortWithError(c, err)
		return
	}

	actorID, _ := orgcontext.ActorIDFromContext(ctx)
	resp, err := s.batches.Prepare(ctx, batch.PrepareRequest{
		ActorID:      actorID,
		SurgeID:      id,
		HouseholdIDs: householdIDs,
		Order:        order,
		PostAction:   action,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// BuildArchive bundles already prepared packets without rebuilding them.
func (s *Server) BuildArchive(c *gin.Context) {
	id, ok := surgeIDParam(c)
	if !ok {
		return
	}
	var req householdsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	householdIDs, ok := householdIDsParam(c, req.HouseholdIDs)
	if !ok {
		return
	}
	if len(householdIDs) == 0 {
		AbortWithError(c, batch.ErrNoHouseholds)
		return
	}

	ctx := c.Request.Context()
	if _, err := s.surgeSvc.Get(ctx, id); err != nil {
		AbortWithError(c, err)
		return
	}

	ref, err := s.archives.BuildArchive(ctx, id, householdIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": archiveResponse{
		Key:       ref.Key,
		URL:       ref.URL,
		ExpiresAt: ref.ExpiresAt,
	}})
}
