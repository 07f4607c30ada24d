package pipeline

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/epiforecast/ingestion"
)

// API provides handlers for triggering runs and reading results.
type API struct {
	service *Service
	store   *Store
}

// NewAPI creates an API handler over the given service and store.
func NewAPI(service *Service, store *Store) *API {
	return &API{service: service, store: store}
}

// RegisterRoutes registers the run API routes with the given Gin router.
func (a *API) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")

	runRoutes := v1.Group("/runs")
	{
		runRoutes.POST("/", a.createRunHandler)
		runRoutes.GET("/", a.listRunsHandler)
		runRoutes.GET("/:run_id", a.getRunHandler)
		runRoutes.GET("/:run_id/chart", a.getChartHandler)
	}
}

// createRunHandler executes one pipeline run synchronously. This is a
// batch job, not a service call: the response carries the finished
// run's metrics.
func (a *API) createRunHandler(c *gin.Context) {
	var source ingestion.SourceConfig
	if err := c.ShouldBindJSON(&source); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid source config: " + err.Error()})
		return
	}

	run, err := a.service.Execute(source)
	if err != nil {
		log.Printf("Run request failed: %v", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": err.Error(),
			"run":   run,
		})
		return
	}
	c.JSON(http.StatusCreated, run)
}

// listRunsHandler returns all run summaries, most recent first.
func (a *API) listRunsHandler(c *gin.Context) {
	runs, err := a.store.ListRuns()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs: " + err.Error()})
		return
	}
	if runs == nil {
		runs = []*Run{}
	}
	c.JSON(http.StatusOK, runs)
}

// getRunHandler returns one run summary.
func (a *API) getRunHandler(c *gin.Context) {
	run, found, err := a.store.GetRun(c.Param("run_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch run: " + err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// getChartHandler returns the aligned actual/predicted series for a
// run, ready for a line-chart frontend.
func (a *API) getChartHandler(c *gin.Context) {
	runID := c.Param("run_id")
	_, found, err := a.store.GetRun(runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch run: " + err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	data, err := a.store.GetChartData(runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch chart data: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, data)
}
