package receiptrequestresponse

// Job variable names.
const (
	VarSubscriberID   = "subscriberId"
	VarCreatedAt      = "createdAt"
	VarRequestContext = "requestContext"
	VarStateRevision  = "stateRevision"

	VarPresentation = "receiptCredentialPresentation"
	VarRedeemable   = "redeemable"
)

// Output is handed to the redemption job that follows in the chain.
type Output struct {
	ReceiptCredentialPresentation string `json:"receiptCredentialPresentation,omitempty"`
	Redeemable                    bool   `json:"redeemable"`
}

func (o Output) Variables() map[string]interface{} {
	vars := map[string]interface{}{VarRedeemable: o.Redeemable}
	if o.ReceiptCredentialPresentation != "" {
		vars[VarPresentation] = o.ReceiptCredentialPresentation
	}
	return vars
}
