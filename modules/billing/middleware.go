package billing

import "net/http"

// RequirePlan gates a route behind a minimum plan tier. Gating for a paid
// tier reads both the plan and the subscription status; past_due still
// passes, so a single failed charge never locks a paying user out before the
// provider reports a real transition.
func RequirePlan(store AccountStore, tier Plan) func(http.Handler) http.Handler {
	if store == nil {
		panic("billing: RequirePlan requires an account store")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			account, err := store.Account(r.Context(), userID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			if !allowed(account, tier) {
				writeError(w, http.StatusPaymentRequired,
					string(tier)+" plan or higher is required for this feature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allowed(account *Account, tier Plan) bool {
	if !account.Plan.AtLeast(tier) {
		return false
	}
	if !tier.Paid() {
		return true
	}
	if account.Status == nil {
		return false
	}
	return account.Status.Entitled() || *account.Status == StatusPastDue
}
