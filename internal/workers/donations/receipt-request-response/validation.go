package receiptrequestresponse

import (
	"fmt"
	"time"

	"receipt-workers/internal/donations"
	"receipt-workers/internal/zkreceipt"
)

const (
	secondsPerDay = 86400
	maxValidity   = 60 * 24 * time.Hour
)

// CredentialCheck holds each term of the credential predicate. Every term is
// evaluated, so a failure report names all of them.
type CredentialCheck struct {
	SameLevel            bool
	ExpiresAfterPeriod   bool
	ExpirationDayAligned bool
	ExpiresInFuture      bool
	ExpiresWithinWindow  bool
}

// CheckCredential compares a credential to the subscription it was issued for.
func CheckCredential(sub *donations.Subscription, cred zkreceipt.Credential, now time.Time) CredentialCheck {
	nowSec := now.Unix()
	exp := cred.ExpirationTime()

	return CredentialCheck{
		SameLevel:            sub.Level == cred.Level(),
		ExpiresAfterPeriod:   exp > sub.EndOfCurrentPeriod,
		ExpirationDayAligned: exp%secondsPerDay == 0,
		ExpiresInFuture:      exp > nowSec,
		ExpiresWithinWindow:  exp <= nowSec+int64(maxValidity/time.Second),
	}
}

func (c CredentialCheck) Valid() bool {
	return c.SameLevel && c.ExpiresAfterPeriod && c.ExpirationDayAligned && c.ExpiresInFuture && c.ExpiresWithinWindow
}

// Failed names the failing terms.
func (c CredentialCheck) Failed() []string {
	var failed []string
	for _, term := range c.terms() {
		if !term.ok {
			failed = append(failed, term.name)
		}
	}
	return failed
}

func (c CredentialCheck) Fields() map[string]interface{} {
	fields := make(map[string]interface{}, 5)
	for _, term := range c.terms() {
		fields[term.name] = term.ok
	}
	return fields
}

func (c CredentialCheck) String() string {
	return fmt.Sprintf("sameLevel(%t) expiresAfterPeriod(%t) dayAligned(%t) inFuture(%t) withinWindow(%t)",
		c.SameLevel, c.ExpiresAfterPeriod, c.ExpirationDayAligned, c.ExpiresInFuture, c.ExpiresWithinWindow)
}

type term struct {
	name string
	ok   bool
}

func (c CredentialCheck) terms() []term {
	return []term{
		{"sameLevel", c.SameLevel},
		{"expiresAfterPeriod", c.ExpiresAfterPeriod},
		{"dayAligned", c.ExpirationDayAligned},
		{"inFuture", c.ExpiresInFuture},
		{"withinWindow", c.ExpiresWithinWindow},
	}
}
