package coordinator

import (
	"fmt"
	"strings"

	"qrverify/internal/verification/contact"
	"qrverify/internal/verification/qrcode"
)

// DefaultRegistrationURL is where non-members are sent to sign up.
const DefaultRegistrationURL = "https://www.smallstreet.app/login/"

func msgProcessing(mention string) string {
	return fmt.Sprintf("🔍 Processing QR code for %s...", mention)
}

const (
	msgReadingContact      = "🔍 Reading contact information... (This may take a moment)"
	msgVerifyingMembership = "🔍 Verifying membership... (This may take a moment)"
)

func msgInProgress(mention string) string {
	return fmt.Sprintf("⚠️ Your previous QR code is still being processed, %s. Please wait for it to finish.", mention)
}

func msgCooldown(mention string) string {
	return fmt.Sprintf("⚠️ Please wait a few seconds before trying again, %s.", mention)
}

func msgDecodeFailed(reason qrcode.Reason, mention string) string {
	switch reason {
	case qrcode.ReasonAlignment:
		return fmt.Sprintf("❌ The QR code looks skewed or damaged, %s. Please retake the photo straight-on and try again.", mention)
	case qrcode.ReasonNotFound:
		return fmt.Sprintf("❌ Could not read QR code. Please ensure image is clear and try again, %s.", mention)
	default:
		return fmt.Sprintf("❌ Failed to process the QR code, %s. Please try again with a clearer image.", mention)
	}
}

func msgInvalidPayload(mention string) string {
	return fmt.Sprintf("❌ Invalid QR code. Must be from qr1.be, %s.", mention)
}

func msgContactNotFound(mention string) string {
	return fmt.Sprintf("❌ Could not read contact information from QR code, %s. Please try again.", mention)
}

func msgNotMember(mention, registrationURL string) string {
	return fmt.Sprintf("❌ Not a verified SmallStreet member, %s. Please register at %s", mention, registrationURL)
}

func msgUnavailable(mention string) string {
	return fmt.Sprintf("❌ Service is temporarily unavailable, %s. Please try again in a few minutes.", mention)
}

func msgError(mention string) string {
	return fmt.Sprintf("❌ An error occurred during verification, %s. Please try again.", mention)
}

// msgVerified renders the success summary. Missing name or phone show as N/A.
func msgVerified(tier, roleName string, rec *contact.Record) string {
	lines := []string{fmt.Sprintf("✅ Verified SmallStreet Membership - %s", orNA(tier))}
	if roleName != "" {
		lines = append(lines, fmt.Sprintf("🎭 Discord Role Assigned: %s", roleName))
	}
	lines = append(lines,
		"📇 Contact Information:",
		fmt.Sprintf("👤 Name: %s", orNA(rec.Name)),
		fmt.Sprintf("📱 Phone: %s", orNA(rec.Phone)),
		fmt.Sprintf("📧 Email: %s", rec.Email),
	)
	return strings.Join(lines, "\n")
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
