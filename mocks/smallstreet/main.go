package main

import (
	"encoding/json"
	"fmt"
	"html"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort      = "8082"
	defaultLatencyMs = "100"
	defaultFailRate  = "0"
)

type DirectoryEntry struct {
	UserEmail      string  `json:"user_email"`
	MembershipID   any     `json:"membership_id"`
	MembershipName *string `json:"membership_name"`
}

type Profile struct {
	Name  string
	Phone string
	Email string
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

var (
	latencyMs = getEnvInt("LATENCY_MS", defaultLatencyMs)
	// failRate is the percentage of requests answered with 503, for
	// exercising the bot's retry and snapshot fallback.
	failRate = getEnvInt("FAIL_RATE", defaultFailRate)
)

func tier(name string) *string { return &name }

// directory mirrors the shapes the real SmallStreet endpoint returns,
// including null and empty membership ids.
var directory = []DirectoryEntry{
	{UserEmail: "pioneer@example.com", MembershipID: 101, MembershipName: tier("Pioneer")},
	{UserEmail: "patron@example.com", MembershipID: "m-202", MembershipName: tier("Patron")},
	{UserEmail: "gold@example.com", MembershipID: 303, MembershipName: tier("Gold")},
	{UserEmail: "tierless@example.com", MembershipID: 404},
	{UserEmail: "lapsed@example.com", MembershipID: nil, MembershipName: nil},
	{UserEmail: "cancelled@example.com", MembershipID: "", MembershipName: tier("Pioneer")},
}

// profiles are keyed by the short code that would follow qr1.be/.
var profiles = map[string]Profile{
	"PIONEER": {Name: "Pia Pioneer", Phone: "+1 555-010-1001", Email: "pioneer@example.com"},
	"PATRON":  {Name: "Pat Patron", Phone: "555 010 2002", Email: "patron@example.com"},
	"GOLD":    {Name: "Goldie", Email: "gold@example.com"},
	"LAPSED":  {Name: "Lapsed Member", Phone: "555-010-5005", Email: "lapsed@example.com"},
	"NOMAIL":  {Name: "No Email", Phone: "555-010-6006"},
}

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/wp-json/myapi/v1/api", withChaos(handleDirectory))
	http.HandleFunc("/p/", withChaos(handleProfile))

	log.Printf("🏪 Mock SmallStreet directory starting on port %s", port)
	log.Printf("⏱️  Simulated latency: %dms", latencyMs)
	log.Printf("💥 Failure rate: %d%%", failRate)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "smallstreet-mock",
		"version": "1.0.0",
	})
}

func withChaos(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(latencyMs) * time.Millisecond)
		log.Printf("📥 Incoming request: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

		if r.Method != http.MethodGet {
			sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if failRate > 0 && rand.IntN(100) < failRate {
			sendError(w, "Simulated outage", http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}

func handleDirectory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(directory)
	log.Printf("✅ Directory served: %d entries", len(directory))
}

func handleProfile(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/p/"))
	profile, ok := profiles[code]
	if !ok {
		sendError(w, "Profile not found", http.StatusNotFound)
		return
	}

	var b strings.Builder
	b.WriteString("<!doctype html><html><body><div class=\"card\">")
	fmt.Fprintf(&b, "<h1>%s</h1>", html.EscapeString(profile.Name))
	if profile.Phone != "" {
		fmt.Fprintf(&b, "<a href=\"tel:%s\">Call</a>", html.EscapeString(profile.Phone))
	}
	if profile.Email != "" {
		fmt.Fprintf(&b, "<a href=\"mailto:%s\">%s</a>", profile.Email, profile.Email)
	}
	b.WriteString("</div></body></html>")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
	log.Printf("✅ Profile served: %s", code)
}

func sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
	log.Printf("❌ Error response: %d - %s", code, message)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key, defaultValue string) int {
	value := getEnv(key, defaultValue)
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("⚠️  Invalid integer value for %s, using default: %s", key, defaultValue)
		intValue, _ = strconv.Atoi(defaultValue)
	}
	return intValue
}
