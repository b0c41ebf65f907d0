package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/surge/internal/orgcontext"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
)

const maxUploadBytes = 50 << 20

type createSurgeRequest struct {
	Name        string   `json:"name"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	ReportTypes []string `json:"report_types"`
}

type reportTypesRequest struct {
	ReportTypes []string `json:"report_types"`
}

type reorderRequest struct {
	Order []string `json:"order"`
}

type householdsRequest struct {
	HouseholdIDs []string `json:"household_ids"`
}

func (s *Server) CreateSurge(c *gin.Context) {
	var req createSurgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startDate, ok := parseDate(req.StartDate)
	if !ok {
		AbortWithError(c, newValidationError("start_date", "invalid_start_date", "invalid start_date"))
		return
	}
	endDate, ok := parseDate(req.EndDate)
	if !ok {
		AbortWithError(c, newValidationError("end_date", "invalid_end_date", "invalid end_date"))
		return
	}

	actorID, _ := orgcontext.ActorIDFromContext(c.Request.Context())
	resp, err := s.surgeSvc.Create(c.Request.Context(), surgedomain.CreateSurgeRequest{
		Name:        req.Name,
		StartDate:   startDate,
		EndDate:     endDate,
		ReportTypes: toReportTypes(req.ReportTypes),
		CreatedBy:   actorID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetSurge(c *gin.Context) {
	id, ok := surgeIDParam(c)
	if !ok {
		return
	}
	resp, err := s.surgeSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteSurge(c *gin.Context) {
	id, ok := surgeIDParam(c)
	if !ok {
		return
	}
	if err := s.surgeSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) SelectReportTypes(c *gin.Context) {
	id, ok := surgeIDParam(c)
	if !ok {
		return
	}
	var req reportTypesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.surgeSvc.SelectReportTypes(c.Request.Context(), id, toReportTypes(req.ReportTypes))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReorderSurge(c *gin.Context) {
	id, ok := surgeIDParam(c)
	if !ok {
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.surgeSvc.Reorder(c.Request.Context(), id, req.Order)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// AddUpload takes a multipart form with a "file" part and an optional
// "page_count" field.
func (s *Server) AddUpload(c *gin.Context) {
	id, ok := surgeIDParam(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, newValidationError("file", "invalid_file", "a PDF file is required"))
		return
	}

	var pageCount *int
	if raw := strings.TrimSpace(c.PostForm("page_count")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, newValidationError("page_count", "invalid_page_count", "invalid page_count"))
			return
		}
		pageCount = &parsed
	}

	file, err := header.Open()
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = header.Filename
	}

	resp, err := s.surgeSvc.AddUpload(c.Request.Context(), surgedomain.AddUploadRequest{
		SurgeID:   id,
		Name:      name,
		Content:   content,
		PageCount: pageCount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) RemoveUpload(c *gin.Context) {
	id, ok := surgeIDParam(c)
	if !ok {
		return
	}
	resp, err := s.surgeSvc.RemoveUpload(c.Request.Context(), id, strings.TrimSpace(c.Param("uploadId")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSnapshots(c *gin.Context) {
	id, ok := surgeIDParam(c)
	if !ok {
		return
	}
	resp, err := s.surgeSvc.ListSnapshots(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ClearSnapshots removes the listed households' packets, or every packet of
// the surge when the body names none.
func (s *Server) ClearSnapshots(c *gin.Context) {
	id, ok := surgeIDParam(c)
	if !ok {
		return
	}
	var req householdsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	householdIDs, ok := householdIDsParam(c, req.HouseholdIDs)
	if !ok {
		return
	}
	if err := s.surgeSvc.ClearSnapshots(c.Request.Context(), id, householdIDs); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) HouseholdWarnings(c *gin.Context) {
	id, ok := surgeIDParam(c)
	if !ok {
		return
	}
	householdIDs, ok := householdIDsParam(c, c.QueryArray("household_id"))
	if !ok {
		return
	}
	resp, err := s.surgeSvc.HouseholdWarnings(c.Request.Context(), id, householdIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func surgeIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, ok := parseSnowflakeID(c.Param("id"))
	if !ok {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid surge id"))
		return 0, false
	}
	return id, true
}

func householdIDsParam(c *gin.Context, values []string) ([]snowflake.ID, bool) {
	ids, bad, ok := parseSnowflakeIDs(values)
	if !ok {
		AbortWithError(c, newValidationError("household_ids", "invalid_household_id", "invalid household id "+strconv.Quote(bad)))
		return nil, false
	}
	return ids, true
}

func toReportTypes(values []string) []reportdomain.ReportType {
	out := make([]reportdomain.ReportType, 0, len(values))
	for _, value := range values {
		out = append(out, reportdomain.ReportType(value))
	}
	return out
}
