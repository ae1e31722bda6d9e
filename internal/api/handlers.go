package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relaycord/core/internal/corerr"
	"github.com/relaycord/core/internal/database"
)

type createTenantRequest struct {
	TenantID         string `json:"tenant_id"`
	TenantName       string `json:"tenant_name"`
	OrganizationName string `json:"organization_name"`
	SubscriptionTier string `json:"subscription_tier"`
}

func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.New(corerr.Policy, "malformed request body"))
		return
	}
	if req.TenantID == "" || req.TenantName == "" {
		writeError(w, corerr.New(corerr.Policy, "tenant_id and tenant_name are required"))
		return
	}
	tenant := &database.Tenant{
		TenantID:         req.TenantID,
		TenantName:       req.TenantName,
		OrganizationName: req.OrganizationName,
		SubscriptionTier: req.SubscriptionTier,
		Status:           "active",
		Settings:         map[string]interface{}{},
	}
	if tenant.SubscriptionTier == "" {
		tenant.SubscriptionTier = "free"
	}
	if err := s.db.CreateTenant(r.Context(), tenant); err != nil {
		writeError(w, corerr.Wrap(corerr.Transient, "create tenant", err))
		return
	}
	writeJSON(w, http.StatusCreated, tenant)
}

type upgradeTenantRequest struct {
	SubscriptionTier string                 `json:"subscription_tier,omitempty"`
	Settings         map[string]interface{} `json:"settings,omitempty"`
}

func (s *Server) upgradeTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]
	var req upgradeTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.New(corerr.Policy, "malformed request body"))
		return
	}
	ctx := r.Context()
	if req.SubscriptionTier != "" {
		if err := s.db.UpdateTenantTier(ctx, tenantID, req.SubscriptionTier); err != nil {
			writeError(w, corerr.Wrap(corerr.Transient, "update tenant tier", err))
			return
		}
	}
	if req.Settings != nil {
		if err := s.db.UpdateTenantSettings(ctx, tenantID, req.Settings); err != nil {
			writeError(w, corerr.Wrap(corerr.Transient, "update tenant settings", err))
			return
		}
	}
	// These updates go to the control-plane database only: no tenant_config
	// reload event is published and the tenantctx store is not written, so
	// cached tenant configs are not evicted or changed by this route.
	writeJSON(w, http.StatusOK, map[string]string{"tenant_id": tenantID, "status": "updated"})
}

type issueKeyRequest struct {
	TenantID string   `json:"tenant_id"`
	Name     string   `json:"name"`
	Scopes   []string `json:"scopes"`
}

func (s *Server) issueKey(w http.ResponseWriter, r *http.Request) {
	var req issueKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.New(corerr.Policy, "malformed request body"))
		return
	}
	plaintext, row, err := s.identity.IssueKey(r.Context(), req.TenantID, req.Name, req.Scopes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"key_id": row.KeyID,
		"token":  plaintext,
	})
}

func (s *Server) revokeKey(w http.ResponseWriter, r *http.Request) {
	keyID := mux.Vars(r)["id"]
	if err := s.identity.RevokeKey(r.Context(), keyID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key_id": keyID, "status": "revoked"})
}

func (s *Server) rotateSigningKey(w http.ResponseWriter, r *http.Request) {
	if s.rotator == nil {
		writeError(w, corerr.New(corerr.Fatal, "signing key rotation not configured"))
		return
	}
	keyID, err := s.rotator.RotateSigningKey()
	if err != nil {
		writeError(w, corerr.Wrap(corerr.Transient, "rotate signing key", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active_key_id": keyID})
}

func (s *Server) triggerReconciliation(w http.ResponseWriter, r *http.Request) {
	if s.recsweep == nil {
		writeError(w, corerr.New(corerr.Fatal, "reconciliation sweep not configured"))
		return
	}
	if err := s.recsweep.TriggerReconciliation(); err != nil {
		writeError(w, corerr.Wrap(corerr.Transient, "trigger reconciliation", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

type proposeRuleRequest struct {
	TenantID string `json:"tenant_id"`
	Action   string `json:"action"`
	Payload  string `json:"payload"`
	ActorID  string `json:"actor_id"`
}

func (s *Server) proposeRule(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		writeError(w, corerr.New(corerr.Fatal, "rule audit store not configured"))
		return
	}
	ruleID := mux.Vars(r)["id"]
	var req proposeRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.New(corerr.Policy, "malformed request body"))
		return
	}
	detail, err := json.Marshal(map[string]string{
		"tenant_id": req.TenantID,
		"action":    req.Action,
		"payload":   req.Payload,
	})
	if err != nil {
		writeError(w, corerr.Wrap(corerr.Transient, "encode rule detail", err))
		return
	}
	entry, err := s.rules.ProposeRule(r.Context(), ruleID, req.ActorID, string(detail))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type approveRuleRequest struct {
	ActorID string `json:"actor_id"`
	Approve bool   `json:"approve"`
}

// approveRule enforces §6A's four-eyes control: approval by the proposing
// actor is rejected with a typed four_eyes_violation, matching §7's policy
// error kind. Both the proposal and its resolution are distinct, immutable
// rows in the audit log rather than one row mutated in place.
func (s *Server) approveRule(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		writeError(w, corerr.New(corerr.Fatal, "rule audit store not configured"))
		return
	}
	ruleID := mux.Vars(r)["id"]
	var req approveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.New(corerr.Policy, "malformed request body"))
		return
	}

	entry, err := s.rules.ResolveRule(r.Context(), ruleID, req.ActorID, req.Approve)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, corerr.New(corerr.Fatal, "ledger reader not configured"))
		return
	}
	accountID := mux.Vars(r)["id"]
	snapshot, err := s.ledger.AccountSnapshot(accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
