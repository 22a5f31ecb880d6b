package mpesa

import (
	"time"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
)

type PushRequest struct {
	Amount           int64
	Phone            string
	AccountReference string
	Description      string
}

type PushResponse struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResponseCode      string `json:"ResponseCode"`
	ResponseDesc      string `json:"ResponseDescription"`
	CustomerMessage   string `json:"CustomerMessage"`
}

type QueryResponse struct {
	ResponseCode      string `json:"ResponseCode"`
	ResponseDesc      string `json:"ResponseDescription"`
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type apiError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkQueryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// CallbackEnvelope is the webhook body the gateway posts back after the payer
// resolves (or ignores) the STK prompt.
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []MetadataItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type MetadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// Outcome maps the callback into the gateway-neutral reconciliation input.
// Metadata items are optional even on success: whatever is present is
// extracted, missing fields stay zero and are flagged by the caller.
func (e *CallbackEnvelope) Outcome() domain.PaymentOutcome {
	cb := e.Body.StkCallback

	outcome := domain.PaymentOutcome{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		Success:           cb.ResultCode == 0,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}

	if cb.CallbackMetadata == nil {
		return outcome
	}

	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				amount := int64(v)
				outcome.Amount = &amount
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				outcome.Receipt = v
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case float64:
				outcome.Phone = formatNumericPhone(v)
			case string:
				outcome.Phone = v
			}
		case "TransactionDate":
			if v, ok := item.Value.(float64); ok {
				if t, err := time.ParseInLocation(timestampLayout, formatNumericTimestamp(v), time.Local); err == nil {
					outcome.PaidAt = &t
				}
			}
		}
	}

	return outcome
}
