package portal

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// calibrateInterval is the cadence of the live calibration stream.
const calibrateInterval = 500 * time.Millisecond

// calibrationSample is one live reading pushed over the calibration
// stream while the installer adjusts the dry/wet constants.
type calibrationSample struct {
	Raw      int     `json:"raw"`
	Humidity float64 `json:"humidity"`
}

// handleCalibrate upgrades to a websocket and streams raw probe
// readings every 500ms until the client goes away.
func (p *Portal) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if p.reader == nil {
		http.Error(w, "probe not available", http.StatusServiceUnavailable)
		return
	}

	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("[Portal] Calibration upgrade failed: %v", err)
		}
		return
	}
	defer ws.Close()

	if p.logger != nil {
		p.logger.Printf("[Portal] Calibration stream opened from %s", r.RemoteAddr)
	}

	// Drain control frames so we notice the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(calibrateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			raw, err := p.reader.Read()
			if err != nil {
				if p.logger != nil {
					p.logger.Printf("[Portal] Calibration read failed: %v", err)
				}
				continue
			}

			sample := calibrationSample{
				Raw:      raw,
				Humidity: p.scale.Percent(raw),
			}

			ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := ws.WriteJSON(sample); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					if p.logger != nil {
						p.logger.Printf("[Portal] Calibration stream error: %v", err)
					}
				}
				return
			}
		}
	}
}
