// Package api implements the administrative HTTP surface (SPEC_FULL.md
// §6A): tenant CRUD, API key lifecycle, signing-key rotation, reconciliation
// triggers, and four-eyes emergency rule approval, in the shape of the
// predecessor's internal/api package (manual CORS middleware, X-Tenant-ID
// convention).
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/relaycord/core/internal/corerr"
	"github.com/relaycord/core/internal/database"
	"github.com/relaycord/core/internal/tenantctx"
)

// Server wires the admin surface's collaborators behind a gorilla/mux router.
type Server struct {
	router   *mux.Router
	db       *database.SupabaseClient
	identity *tenantctx.Identity
	ledger   LedgerReader
	rotator  SigningKeyRotator
	recsweep ReconciliationTrigger
	rules    RuleAuditStore
}

// RuleAuditStore fronts the append-only four-eyes rule audit trail (§6A).
type RuleAuditStore interface {
	ProposeRule(ctx context.Context, ruleID, actorID, detail string) (*RuleAuditEntry, error)
	ResolveRule(ctx context.Context, ruleID, actorID string, approve bool) (*RuleAuditEntry, error)
	LatestRuleAudit(ctx context.Context, ruleID string) (*RuleAuditEntry, error)
}

// RuleAuditEntry is the admin-surface view of one immutable audit row.
type RuleAuditEntry struct {
	RuleID    string    `json:"rule_id"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerReader is the read-only snapshot surface for GET /admin/ledger/accounts/{id}.
type LedgerReader interface {
	AccountSnapshot(accountID string) (AccountSnapshot, error)
}

// AccountSnapshot is the support-tooling view of an account's lots and
// reservations.
type AccountSnapshot struct {
	AccountID    string                   `json:"account_id"`
	LimitMicro   int64                    `json:"limit_micro"`
	Lots         []map[string]interface{} `json:"lots"`
	Reservations []map[string]interface{} `json:"reservations"`
}

// SigningKeyRotator rotates the Agent Gateway's JWT signing key.
type SigningKeyRotator interface {
	RotateSigningKey() (newKeyID string, err error)
}

// ReconciliationTrigger kicks off an out-of-band usage-reconciliation sweep.
type ReconciliationTrigger interface {
	TriggerReconciliation() error
}

// NewServer builds the admin router.
func NewServer(db *database.SupabaseClient, identity *tenantctx.Identity, ledger LedgerReader, rotator SigningKeyRotator, recsweep ReconciliationTrigger, rules RuleAuditStore) *Server {
	s := &Server{db: db, identity: identity, ledger: ledger, rotator: rotator, recsweep: recsweep, rules: rules}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/admin/tenants", s.createTenant).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/tenants/{id}", s.upgradeTenant).Methods(http.MethodPatch)
	s.router.HandleFunc("/admin/keys", s.issueKey).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/keys/{id}/revoke", s.revokeKey).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/signing-keys/rotate", s.rotateSigningKey).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/reconciliation/trigger", s.triggerReconciliation).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/rules/{id}/propose", s.proposeRule).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/rules/{id}/approve", s.approveRule).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/ledger/accounts/{id}", s.getAccount).Methods(http.MethodGet)
}

// corsMiddleware mirrors the predecessor's manual CORS handling: reflect an
// allowlisted origin (or "*" whenever RC_ADMIN_ALLOWED_ORIGINS is empty, in
// every environment) rather than pulling in a
// CORS library for a handful of admin routes.
func corsMiddleware(next http.Handler) http.Handler {
	allowed := splitCSV(os.Getenv("RC_ADMIN_ALLOWED_ORIGINS"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, a := range allowed {
				if a == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tenant-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders corerr.Error kinds per §7's HTTP-equivalent surfacing
// (transient->502, conflict->409, not_found->404, policy->403,
// integrity/fatal->500); errors that carry no corerr kind also map to 500.
func writeError(w http.ResponseWriter, err error) {
	kind := corerr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case corerr.Transient:
		status = http.StatusBadGateway
	case corerr.Conflict:
		status = http.StatusConflict
	case corerr.NotFound:
		status = http.StatusNotFound
	case corerr.Policy:
		status = http.StatusForbidden
	}
	slog.Warn("api: request failed", "kind", kind, "error", err)
	writeJSON(w, status, map[string]string{"error": "request_failed", "kind": string(kind)})
}
