package bot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"odpbot/internal/geo"
	"odpbot/internal/models"
	"odpbot/internal/storage"
)

const initDataMaxAge = 24 * time.Hour

type identityKey struct{}

// HTTPServer serves the read-only agent API used by the Telegram Mini App
type HTTPServer struct {
	bot *Bot
}

// NewHTTPServer creates a new HTTP server for the agent API
func NewHTTPServer(bot *Bot) *HTTPServer {
	return &HTTPServer{bot: bot}
}

// RegisterRoutes registers the API routes on the provided mux
func (hs *HTTPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/records", hs.authMiddleware(hs.handleRecords))
	mux.HandleFunc("/api/odp", hs.authMiddleware(hs.handleODP))
}

// validateTelegramInitData checks the Mini App initData signature and returns
// the Telegram user ID it carries
func (hs *HTTPServer) validateTelegramInitData(initData string) (string, error) {
	if initData == "" {
		return "", fmt.Errorf("missing initData")
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return "", fmt.Errorf("invalid initData format: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return "", fmt.Errorf("missing hash in initData")
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var dataCheckString strings.Builder
	for i, k := range keys {
		if i > 0 {
			dataCheckString.WriteByte('\n')
		}
		dataCheckString.WriteString(k)
		dataCheckString.WriteByte('=')
		dataCheckString.WriteString(values.Get(k))
	}

	if !hmac.Equal([]byte(signInitData(hs.bot.token, dataCheckString.String())), []byte(hash)) {
		return "", fmt.Errorf("invalid hash")
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return "", fmt.Errorf("missing auth_date")
	}
	if hs.bot.now().Sub(time.Unix(authDate, 0)) > initDataMaxAge {
		return "", fmt.Errorf("initData is too old")
	}

	var user struct {
		ID int64 `json:"id"`
	}
	if err := jsoniter.UnmarshalFromString(values.Get("user"), &user); err != nil || user.ID == 0 {
		return "", fmt.Errorf("invalid user data")
	}
	return strconv.FormatInt(user.ID, 10), nil
}

// signInitData computes the hex HMAC Telegram attaches to Mini App initData
func signInitData(token, dataCheckString string) string {
	secretKey := hmac.New(sha256.New, []byte("WebAppData"))
	secretKey.Write([]byte(token))

	h := hmac.New(sha256.New, secretKey.Sum(nil))
	h.Write([]byte(dataCheckString))
	return hex.EncodeToString(h.Sum(nil))
}

// authMiddleware resolves the calling agent from signed initData and rejects
// unregistered ones. The update mode does not relax it.
func (hs *HTTPServer) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "tma ") {
			hs.bot.logger.Warn("Missing or invalid authorization header",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		identity, err := hs.validateTelegramInitData(strings.TrimPrefix(authHeader, "tma "))
		if err != nil {
			hs.bot.logger.Warn("Failed to validate initData",
				zap.Error(err),
				zap.String("remote_addr", r.RemoteAddr),
			)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		_, err = hs.bot.db.GetCredentials(r.Context(), identity)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusForbidden, "Not registered")
			return
		case err != nil:
			hs.bot.logger.Error("Failed to load credentials", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "Store unavailable")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	}
}

type recordResponse struct {
	Row          int      `json:"row"`
	SubmittedAt  string   `json:"submitted_at"`
	BusinessType string   `json:"business_type"`
	Address      string   `json:"address"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Package      string   `json:"package"`
	STO          string   `json:"sto"`
	ODPName      string   `json:"odp_name,omitempty"`
	PhotoURL     string   `json:"photo_url"`
	MapsLink     string   `json:"maps_link,omitempty"`
}

func newRecordResponse(r models.UserRecord, loc *time.Location) recordResponse {
	resp := recordResponse{
		Row:          r.Row,
		BusinessType: r.BusinessType,
		Address:      r.Address,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		Package:      r.Package,
		STO:          r.STO,
		ODPName:      r.ODPName,
		PhotoURL:     r.PhotoURL,
		MapsLink:     r.MapsLink,
	}
	if !r.SubmittedAt.IsZero() {
		resp.SubmittedAt = r.SubmittedAt.In(loc).Format(time.RFC3339)
	}
	return resp
}

// handleRecords returns the agent's latest submissions
func (hs *HTTPServer) handleRecords(w http.ResponseWriter, r *http.Request) {
	identity, _ := r.Context().Value(identityKey{}).(string)

	limit := hs.bot.opts.RecordLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	records, err := hs.bot.db.ListRecords(r.Context(), identity, limit)
	if err != nil {
		hs.bot.logger.Error("Failed to list records", zap.String("identity", identity), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Failed to fetch records")
		return
	}

	resp := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, newRecordResponse(rec, hs.bot.opts.Location))
	}
	writeJSON(w, http.StatusOK, resp)
}

type odpResponse struct {
	STO       string  `json:"sto"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Available string  `json:"available"`
	DistanceM float64 `json:"distance_m"`
	MapsLink  string  `json:"maps_link"`
}

// handleODP returns the nearest ODPs to ?lat=&lon= or to a maps ?link=
func (hs *HTTPServer) handleODP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var lat, lon float64
	var err error
	if link := q.Get("link"); link != "" {
		lat, lon, err = hs.bot.extractor.ExtractCoordinates(r.Context(), link)
	} else {
		lat, lon, err = parseLatLon(q.Get("lat"), q.Get("lon"))
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid coordinates")
		return
	}

	k := 0
	if v := q.Get("k"); v != "" {
		if k, err = strconv.Atoi(v); err != nil || k <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid k")
			return
		}
	}

	matches, err := hs.bot.locator.FindNearest(r.Context(), lat, lon, k)
	if err != nil {
		hs.bot.logger.Error("Failed to find nearest ODP", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Failed to fetch ODP data")
		return
	}

	resp := make([]odpResponse, 0, len(matches))
	for _, m := range matches {
		resp = append(resp, odpResponse{
			STO:       m.Entry.STO,
			Name:      m.Entry.Name,
			Latitude:  m.Entry.Latitude,
			Longitude: m.Entry.Longitude,
			Available: m.Entry.Available,
			DistanceM: m.DistanceKm * 1000,
			MapsLink:  geo.MapsLink(m.Entry.Latitude, m.Entry.Longitude),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseLatLon(latStr, lonStr string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, err
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return 0, 0, err
	}
	if !geo.Valid(lat, lon) {
		return 0, 0, geo.ErrNotFound
	}
	return lat, lon, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	jsoniter.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
