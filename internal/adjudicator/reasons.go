package adjudicator

import "forager/internal/filters"

// Reason is the machine readable cause of a rejection.
type Reason string

const (
	ReasonMissingAddress        Reason = "missing_address"
	ReasonInvalidAddress        Reason = filters.ReasonInvalidAddress
	ReasonMissingImage          Reason = "missing_image"
	ReasonInvalidImage          Reason = "invalid_image"
	ReasonCaptchaMissing        Reason = filters.ReasonCaptchaMissing
	ReasonCaptchaInvalid        Reason = filters.ReasonCaptchaInvalid
	ReasonHistoryUnavailable    Reason = filters.ReasonHistoryUnavailable
	ReasonNoHistory             Reason = filters.ReasonNoHistory
	ReasonAddressTooNew         Reason = filters.ReasonAddressTooNew
	ReasonBlacklisted           Reason = filters.ReasonBlacklisted
	ReasonProxyDetected         Reason = filters.ReasonProxyDetected
	ReasonCooldown              Reason = "cooldown"
	ReasonClaimInProgress       Reason = "claim_in_progress"
	ReasonFaucetDry             Reason = "faucet_dry"
	ReasonDuplicateImage        Reason = "duplicate_image"
	ReasonNotBanana             Reason = "not_banana"
	ReasonClassifierUnavailable Reason = "classifier_unavailable"
	ReasonPaymentFailed         Reason = "payment_failed"
	ReasonPaymentUnconfirmed    Reason = "payment_unconfirmed"
	ReasonInternal              Reason = filters.ReasonInternal
)

type Category string

const (
	CategoryInput    Category = "input"
	CategoryPolicy   Category = "policy"
	CategoryUpstream Category = "upstream"
)

func (r Reason) Category() Category {
	switch r {
	case ReasonMissingAddress, ReasonInvalidAddress, ReasonMissingImage, ReasonInvalidImage, ReasonCaptchaMissing:
		return CategoryInput
	case ReasonHistoryUnavailable, ReasonClassifierUnavailable, ReasonPaymentFailed, ReasonPaymentUnconfirmed, ReasonInternal:
		return CategoryUpstream
	default:
		return CategoryPolicy
	}
}

// Stage is a step of the adjudication state machine. Stages are passed
// strictly in declaration order; Rewarded and Rejected are terminal.
type Stage string

const (
	StageReceived         Stage = "received"
	StageFormatChecked    Stage = "format_checked"
	StageCaptchaChecked   Stage = "captcha_checked"
	StageHistoryChecked   Stage = "history_checked"
	StageBlacklistChecked Stage = "blacklist_checked"
	StageProxyChecked     Stage = "proxy_checked"
	StageCooldownChecked  Stage = "cooldown_checked"
	StageBalanceChecked   Stage = "balance_checked"
	StageDuplicateChecked Stage = "duplicate_checked"
	StageClassified       Stage = "classified"
	StageRewarded         Stage = "rewarded"
	StageRejected         Stage = "rejected"
)

var filterStages = map[string]Stage{
	filters.AddressFormat{}.Name(): StageFormatChecked,
	filters.Captcha{}.Name():       StageCaptchaChecked,
	filters.History{}.Name():       StageHistoryChecked,
	filters.Blacklist{}.Name():     StageBlacklistChecked,
	filters.Proxy{}.Name():         StageProxyChecked,
}

type Outcome string

const (
	OutcomeRewarded Outcome = "rewarded"
	OutcomeRejected Outcome = "rejected"
)
