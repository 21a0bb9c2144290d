package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nerrad567/pyde1-core/internal/apierror"
	"github.com/nerrad567/pyde1-core/internal/domain"
)

const defaultScanDuration = 5 * time.Second

// scanRequest is the PATCH /scan body (spec §6 "{begin: null|number} starts
// a scan; results arrive on the notification bus").
type scanRequest struct {
	Begin *float64 `json:"begin"`
}

// handleScan serves PATCH /scan. Each advertisement seen during the scan
// window is republished as a KindAdvertisementSeen bus event; results do
// not appear in the HTTP response body.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		writeAPIError(w, apierror.New(apierror.KindUnsupportedFeature, "scanning not available"))
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Begin == nil {
		writeJSON(w, http.StatusOK, []setterResult{okResult("scan")})
		return
	}

	duration := defaultScanDuration
	if *req.Begin > 0 {
		duration = time.Duration(*req.Begin * float64(time.Second))
	}

	advertisements, err := s.scanner.Scan(r.Context(), duration)
	if err != nil {
		writeAPIError(w, apierror.Wrap(apierror.KindTransport, "scan failed", err))
		return
	}

	go func() {
		for adv := range advertisements {
			s.bus.Publish(domain.Event{
				Kind:       domain.KindAdvertisementSeen,
				Sender:     "api",
				ArrivalTime: adv.SeenAt,
				Payload: domain.AdvertisementSeenPayload{
					Address:    adv.Address,
					NamePrefix: adv.NamePrefix,
					RSSI:       adv.RSSI,
				},
			})
		}
	}()

	writeJSON(w, http.StatusOK, []setterResult{okResult("scan")})
}
