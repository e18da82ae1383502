package friends

import (
	"iter"
	"strings"

	"github.com/educonnect/backend/internal/models"
)

// Criteria narrows recommendations. Empty fields do not filter.
type Criteria struct {
	Search   string
	College  string
	Branch   string
	Location string
	// Limit caps the number of results when positive.
	Limit int
}

func (c Criteria) normalized() Criteria {
	return Criteria{
		Search:   strings.ToLower(strings.TrimSpace(c.Search)),
		College:  strings.ToLower(strings.TrimSpace(c.College)),
		Branch:   strings.ToLower(strings.TrimSpace(c.Branch)),
		Location: strings.ToLower(strings.TrimSpace(c.Location)),
		Limit:    c.Limit,
	}
}

// Recommend lazily filters candidates down to onboarded users who are neither
// the requester nor one of the requester's friends and who match criteria.
// Candidates keep their input order.
func Recommend(requester models.User, candidates iter.Seq[models.User], criteria Criteria) iter.Seq[models.User] {
	c := criteria.normalized()
	return func(yield func(models.User) bool) {
		emitted := 0
		for candidate := range candidates {
			if !c.matches(requester, candidate) {
				continue
			}
			if !yield(candidate) {
				return
			}
			emitted++
			if c.Limit > 0 && emitted >= c.Limit {
				return
			}
		}
	}
}

func (c Criteria) matches(requester, candidate models.User) bool {
	if candidate.ID == requester.ID || requester.IsFriend(candidate.ID) {
		return false
	}
	if !candidate.IsOnboarded {
		return false
	}

	if c.Search != "" {
		found := false
		for _, field := range []string{candidate.FullName, candidate.College, candidate.Branch, candidate.Location} {
			if containsFold(field, c.Search) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return (c.College == "" || containsFold(candidate.College, c.College)) &&
		(c.Branch == "" || containsFold(candidate.Branch, c.Branch)) &&
		(c.Location == "" || containsFold(candidate.Location, c.Location))
}

// containsFold reports whether needle, already lower-cased, occurs in haystack ignoring case.
func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}
