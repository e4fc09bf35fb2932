package feed

import "strings"

// Matches reports whether p satisfies every active filter in f.
func Matches(p Post, f Filters) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.Visibility != "" && p.Visibility != f.Visibility {
		return false
	}
	if f.AuthorID != 0 && p.AuthorID != f.AuthorID {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(p.Content), strings.ToLower(f.Search)) {
		return false
	}
	if len(f.Tags) > 0 {
		have := make(map[string]struct{}, len(p.Tags))
		for _, t := range p.Tags {
			have[t] = struct{}{}
		}
		for _, want := range f.Tags {
			if _, ok := have[want]; !ok {
				return false
			}
		}
	}
	return true
}

// Before reports whether a sorts ahead of b for the given normalized sort
// field and order. Equal sort keys fall back to id descending.
func Before(a, b Post, field, order string) bool {
	c := compareField(a, b, field)
	if c == 0 {
		return a.ID > b.ID
	}
	if order == OrderAsc {
		return c < 0
	}
	return c > 0
}

func compareField(a, b Post, field string) int {
	switch field {
	case SortLikes:
		return compareInt64(a.LikesCount, b.LikesCount)
	case SortViews:
		return compareInt64(a.ViewsCount, b.ViewsCount)
	case SortID:
		return compareInt64(int64(a.ID), int64(b.ID))
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
