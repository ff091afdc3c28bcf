package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fintrack/kis-broker/internal/config"
	"github.com/fintrack/kis-broker/internal/modules/tokens"
)

// SystemHandlers handles monitoring endpoints
type SystemHandlers struct {
	log       zerolog.Logger
	tokenRepo *tokens.Repository
	startedAt time.Time
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, tokenRepo *tokens.Repository) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("component", "system_handlers").Logger(),
		tokenRepo: tokenRepo,
		startedAt: time.Now(),
	}
}

// tokenStatus summarizes one environment's durable cache row without ever
// exposing the token itself.
type tokenStatus struct {
	HasToken  bool   `json:"has_token"`
	Valid     bool   `json:"valid"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// HandleStatus handles GET /api/system/status
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	cpuPercent, ramPercent := h.systemStats()

	tokenInfo := map[string]tokenStatus{}
	for _, env := range []config.Environment{config.EnvLive, config.EnvPaper} {
		tokenInfo[env.String()] = h.environmentStatus(env)
	}

	response := map[string]interface{}{
		"status":         "running",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPercent,
		"ram_percent":    ramPercent,
		"memory": map[string]interface{}{
			"alloc_mb": m.Alloc / 1024 / 1024,
			"sys_mb":   m.Sys / 1024 / 1024,
			"num_gc":   m.NumGC,
		},
		"tokens": tokenInfo,
	}

	writeJSONResponse(w, http.StatusOK, response, h.log)
}

func (h *SystemHandlers) environmentStatus(env config.Environment) tokenStatus {
	tok, err := h.tokenRepo.Get(env)
	if err != nil {
		h.log.Error().Err(err).Str("env", env.String()).Msg("Failed to read token status")
		return tokenStatus{}
	}
	if tok == nil {
		return tokenStatus{}
	}

	return tokenStatus{
		HasToken:  true,
		Valid:     tok.ValidAt(time.Now()),
		ExpiresAt: tok.ExpiresAt.Format(time.RFC3339),
	}
}

func (h *SystemHandlers) systemStats() (float64, float64) {
	cpuAvg := 0.0
	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuAvg = percents[0]
	}

	ramPercent := 0.0
	if memStat, err := mem.VirtualMemory(); err == nil {
		ramPercent = memStat.UsedPercent
	}

	return cpuAvg, ramPercent
}
