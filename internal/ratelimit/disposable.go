package ratelimit

// Known throwaway mail providers. Not exhaustive; the gate is a cheap filter
// in front of the window quotas, not an anti-abuse system on its own.
var disposableDomainList = []string{
	"10minutemail.com",
	"dispostable.com",
	"fakeinbox.com",
	"getnada.com",
	"guerrillamail.com",
	"guerrillamail.net",
	"mailinator.com",
	"maildrop.cc",
	"mintemail.com",
	"mohmal.com",
	"sharklasers.com",
	"spamgourmet.com",
	"tempmail.com",
	"temp-mail.org",
	"throwawaymail.com",
	"trashmail.com",
	"yopmail.com",
}

func disposableDomains() map[string]struct{} {
	set := make(map[string]struct{}, len(disposableDomainList))
	for _, domain := range disposableDomainList {
		set[domain] = struct{}{}
	}
	return set
}
