package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kwv/tapmesh/mesh"
	"github.com/kwv/tapmesh/points"
	"github.com/kwv/tapmesh/signal"
	"github.com/kwv/tapmesh/survey"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(session *survey.Session, mqttClient *survey.MQTTClient) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status        string    `json:"status"`
			Timestamp     time.Time `json:"timestamp"`
			SessionID     string    `json:"sessionId"`
			Cells         int       `json:"cells"`
			Scanning      bool      `json:"scanning"`
			MQTTConnected bool      `json:"mqttConnected"`
		}{
			Status:        "ok",
			Timestamp:     time.Now(),
			SessionID:     session.ID,
			Cells:         len(session.Cells()),
			Scanning:      session.Status().Scanning,
			MQTTConnected: mqttClient != nil && mqttClient.IsConnected(),
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("GET /points", func(w http.ResponseWriter, r *http.Request) {
		pts, err := session.Points()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, pts)
	})

	// Manually placed point; snaps to an existing point within the
	// dedup threshold.
	mux.HandleFunc("POST /points", func(w http.ResponseWriter, r *http.Request) {
		// Position in map pixels (x, y) or in meters (xM, yM).
		var req struct {
			X     *float64      `json:"x"`
			Y     *float64      `json:"y"`
			XM    *float64      `json:"xM"`
			YM    *float64      `json:"yM"`
			Roles []points.Role `json:"roles"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		var pos mesh.Point
		switch {
		case req.X != nil && req.Y != nil:
			pos = mesh.Point{X: *req.X, Y: *req.Y}
		case req.XM != nil && req.YM != nil:
			pos = session.Config().Survey.Scale().ToPixels(mesh.Point{X: *req.XM, Y: *req.YM})
		default:
			http.Error(w, "x and y (or xM and yM) are required", http.StatusBadRequest)
			return
		}
		p, err := session.PlacePoint(pos, req.Roles...)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	})

	mux.HandleFunc("POST /points/{id}/anchor", func(w http.ResponseWriter, r *http.Request) {
		var world r3.Vec
		if !readJSON(w, r, &world) {
			return
		}
		n, err := session.Anchor(r.PathValue("id"), world)
		if errors.Is(err, points.ErrPointNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"cells": n})
	})

	mux.HandleFunc("GET /points/{id}/records", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		writeJSON(w, http.StatusOK, struct {
			Grade   signal.Grade         `json:"grade"`
			Records []*signal.ScanRecord `json:"records"`
		}{session.Grade(id), session.Records(id)})
	})

	mux.HandleFunc("GET /cells", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, mesh.CellsToFeatureCollection(session.Cells()))
	})

	mux.HandleFunc("GET /project", func(w http.ResponseWriter, r *http.Request) {
		x, errX := strconv.ParseFloat(r.URL.Query().Get("x"), 64)
		y, errY := strconv.ParseFloat(r.URL.Query().Get("y"), 64)
		if errX != nil || errY != nil {
			http.Error(w, "x and y query parameters must be numbers", http.StatusBadRequest)
			return
		}
		v, exact, ok := session.Project(mesh.Point{X: x, Y: y})
		if !ok {
			http.Error(w, "no anchored cells to project through", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			X     float64 `json:"x"`
			Y     float64 `json:"y"`
			Z     float64 `json:"z"`
			Exact bool    `json:"exact"`
		}{v.X, v.Y, v.Z, exact})
	})

	mux.HandleFunc("GET /fill", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, session.Fill())
	})

	mux.HandleFunc("POST /scan/start", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PointID string `json:"pointId"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		err := session.StartScan(req.PointID)
		switch {
		case errors.Is(err, points.ErrPointNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, signal.ErrAlreadyScanning):
			http.Error(w, err.Error(), http.StatusConflict)
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			log.Printf("[HTTP] scan started at %s", req.PointID)
			writeJSON(w, http.StatusAccepted, session.Status())
		}
	})

	mux.HandleFunc("POST /scan/finish", func(w http.ResponseWriter, r *http.Request) {
		res, err := session.FinishScan()
		if errors.Is(err, signal.ErrNotScanning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, res.Export)
	})

	mux.HandleFunc("POST /scan/cancel", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": session.CancelScan()})
	})

	mux.HandleFunc("GET /scan/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, session.Status())
	})

	// Running aggregates, optionally for one point.
	mux.HandleFunc("GET /aggregates", func(w http.ResponseWriter, r *http.Request) {
		pointID := r.URL.Query().Get("pointId")
		type aggregate struct {
			signal.RunningAggregate
			Stats signal.Stats `json:"stats"`
		}
		out := []aggregate{}
		for _, a := range session.Aggregates() {
			if pointID != "" && a.PointID != pointID {
				continue
			}
			out = append(out, aggregate{a, a.Stats()})
		}
		writeJSON(w, http.StatusOK, out)
	})

	// Samples for hosts without MQTT: one sample or an array of them.
	mux.HandleFunc("POST /samples", func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		if !readJSON(w, r, &raw) {
			return
		}
		var batch []survey.Sample
		if len(raw) > 0 && raw[0] == '[' {
			if err := json.Unmarshal(raw, &batch); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		} else {
			s, err := survey.DecodeSample(raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			batch = []survey.Sample{s}
		}

		accepted := 0
		for _, s := range batch {
			if s.SourceID != "" && session.Ingest(s) {
				accepted++
			}
		}
		writeJSON(w, http.StatusOK, map[string]int{"received": len(batch), "accepted": accepted})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] encoding response: %v", err)
	}
}

// readJSON decodes the request body into v, answering 400 on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
