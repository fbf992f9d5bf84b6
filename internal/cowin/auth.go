package cowin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// SendOTP requests a login OTP for mobile and returns the transaction id.
func (c *Client) SendOTP(ctx context.Context, mobile string) (string, error) {
	body := map[string]string{"mobile": mobile}
	if c.secret != "" {
		body["secret"] = c.secret
	}
	var resp struct {
		TxnID string `json:"txnId"`
	}
	if err := c.post(ctx, "/v2/auth/generateMobileOTP", "", body, &resp); err != nil {
		return "", err
	}
	if resp.TxnID == "" {
		return "", errors.New("empty txnId in OTP response")
	}
	return resp.TxnID, nil
}

// VerifyOTP confirms an OTP of transaction txnID and returns the session token.
// The provider expects the hex SHA-256 of the OTP.
func (c *Client) VerifyOTP(ctx context.Context, otp, txnID string) (string, error) {
	sum := sha256.Sum256([]byte(otp))
	body := map[string]string{
		"otp":   hex.EncodeToString(sum[:]),
		"txnId": txnID,
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/v2/auth/validateMobileOtp", "", body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("empty token in OTP response")
	}
	return resp.Token, nil
}
