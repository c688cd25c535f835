// Package mail dispatches cleanup codes to account owners.
package mail

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Sender delivers a cleanup code to the account email.
type Sender interface {
	SendCleanupCode(ctx context.Context, to, code string, ttl time.Duration) error
}

const cleanupSubject = "Your account cleanup code"

func cleanupText(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your cleanup code is %s. It expires in %d minutes.\r\n"+
		"If you did not try to sign in, you can ignore this email.", code, ttlMinutes(ttl))
}

func cleanupHTML(code string, ttl time.Duration) string {
	return fmt.Sprintf(`<!doctype html>
<html>
<body style="font-family:Verdana, Arial, sans-serif;">
  <p>Your cleanup code is</p>
  <p style="font-size:28px;letter-spacing:6px;font-weight:bold;">%s</p>
  <p>It expires in %d minutes. If you did not try to sign in, you can ignore this email.</p>
</body>
</html>`, code, ttlMinutes(ttl))
}

func ttlMinutes(ttl time.Duration) int {
	m := int((ttl + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

// buildMessage renders a multipart/alternative message with text and HTML bodies.
func buildMessage(fromHeader, fromAddr, to, subject, textBody, htmlBody, boundary string) string {
	var sb strings.Builder
	sb.WriteString("From: " + fromHeader + "\r\n")
	sb.WriteString("Sender: " + fromAddr + "\r\n")
	sb.WriteString("To: " + to + "\r\n")
	sb.WriteString("Subject: " + subject + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: multipart/alternative; boundary=" + boundary + "\r\n")
	sb.WriteString("\r\n")
	sb.WriteString("--" + boundary + "\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(textBody + "\r\n")
	sb.WriteString("--" + boundary + "\r\n")
	sb.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	sb.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(htmlBody + "\r\n")
	sb.WriteString("--" + boundary + "--\r\n")
	return sb.String()
}
