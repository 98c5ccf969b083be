package bill

// OptIns holds each person's current choice to pay the service fee. It is kept
// apart from Person so toggles during review survive the people list being
// rebuilt.
type OptIns map[string]bool

// SeedOptIns builds overrides from each person's default
func SeedOptIns(people []Person) OptIns {
	o := make(OptIns, len(people))
	o.Seed(people)
	return o
}

// Seed adds defaults for people without an entry. Existing entries are kept.
func (o OptIns) Seed(people []Person) {
	for _, p := range people {
		if _, ok := o[p.ID]; !ok {
			o[p.ID] = p.WantsServiceFee
		}
	}
}

// Wants reports the person's effective opt-in, falling back to their default
func (o OptIns) Wants(p Person) bool {
	if v, ok := o[p.ID]; ok {
		return v
	}
	return p.WantsServiceFee
}

// Toggle flips the person's effective opt-in
func (o OptIns) Toggle(p Person) {
	o[p.ID] = !o.Wants(p)
}

// ItemShare is one person's part of an item
type ItemShare struct {
	ItemID     string  `json:"item_id"`
	Name       string  `json:"name"`
	TotalValue float64 `json:"total_value"`
	ShareCount int     `json:"share_count"` // People splitting the item
	SplitValue float64 `json:"split_value"`
}

// Shared reports whether the item is split between more than one person
func (s ItemShare) Shared() bool {
	return s.ShareCount > 1
}

// PersonSplit is the calculated breakdown for one person
type PersonSplit struct {
	Person          Person      `json:"person"`
	Items           []ItemShare `json:"items"`
	Subtotal        float64     `json:"subtotal"`
	WantsServiceFee bool        `json:"wants_service_fee"`
	Fee             float64     `json:"fee"`
	Total           float64     `json:"total"`
}

// Breakdown is the split for the whole table
type Breakdown struct {
	ServicePercent float64       `json:"service_percent"`
	People         []PersonSplit `json:"people"`
	Subtotal       float64       `json:"subtotal"`
	Fees           float64       `json:"fees"`
	Total          float64       `json:"total"`
	Unassigned     float64       `json:"unassigned"` // Value of items nobody present consumed
}

// SplitFor computes one person's items, fee and total.
//
// Each item is divided evenly among its assignees that still exist on the
// bill. Stale ids left behind by a removed person are not counted.
func SplitFor(b *Bill, optIns OptIns, p Person) PersonSplit {
	split := PersonSplit{
		Person:          p,
		Items:           []ItemShare{},
		WantsServiceFee: optIns.Wants(p),
	}

	// Someone removed from the table owes nothing, even if stale ids remain
	if _, ok := b.Person(p.ID); !ok {
		return split
	}

	for _, item := range b.Items {
		if !contains(item.AssignedTo, p.ID) {
			continue
		}
		n := b.resolvedAssignees(item)
		if n == 0 {
			continue
		}
		share := ItemShare{
			ItemID:     item.ID,
			Name:       item.Name,
			TotalValue: item.TotalValue,
			ShareCount: n,
			SplitValue: item.TotalValue / float64(n),
		}
		split.Items = append(split.Items, share)
		split.Subtotal += share.SplitValue
	}

	if split.WantsServiceFee {
		split.Fee = finite(split.Subtotal * (b.ServicePercent / 100))
	}
	split.Total = split.Subtotal + split.Fee

	return split
}

// Calculate computes the split for every person in bill order
func Calculate(b *Bill, optIns OptIns) Breakdown {
	result := Breakdown{
		ServicePercent: b.ServicePercent,
		People:         make([]PersonSplit, 0, len(b.People)),
	}

	for _, p := range b.People {
		split := SplitFor(b, optIns, p)
		result.People = append(result.People, split)
		result.Subtotal += split.Subtotal
		result.Fees += split.Fee
		result.Total += split.Total
	}

	for _, item := range b.Items {
		if b.resolvedAssignees(item) == 0 {
			result.Unassigned += item.TotalValue
		}
	}

	return result
}

// resolvedAssignees counts the item's assignees that are current people
func (b *Bill) resolvedAssignees(item Item) int {
	n := 0
	for _, id := range item.AssignedTo {
		if _, ok := b.Person(id); ok {
			n++
		}
	}
	return n
}
