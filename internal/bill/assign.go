package bill

// ToggleAssignment adds the person to the item's assignees, or removes them if
// already there. Unknown items are ignored.
func (b *Bill) ToggleAssignment(itemID, personID string) {
	idx := b.itemIndex(itemID)
	if idx < 0 {
		return
	}

	item := &b.Items[idx]
	for i, id := range item.AssignedTo {
		if id == personID {
			item.AssignedTo = append(item.AssignedTo[:i], item.AssignedTo[i+1:]...)
			return
		}
	}
	item.AssignedTo = append(item.AssignedTo, personID)
}

// IsAssigned reports whether the person is listed on the item
func (b *Bill) IsAssigned(itemID, personID string) bool {
	item, ok := b.Item(itemID)
	if !ok {
		return false
	}
	return contains(item.AssignedTo, personID)
}

// IsFullyAssigned reports whether every item on the bill has an assignee
func (b *Bill) IsFullyAssigned() bool {
	return IsFullyAssigned(b.Items)
}

// IsFullyAssigned reports whether every item has at least one assignee.
// An empty list counts as fully assigned.
func IsFullyAssigned(items []Item) bool {
	for _, item := range items {
		if len(item.AssignedTo) == 0 {
			return false
		}
	}
	return true
}

// AssignedCount returns how many items have at least one assignee
func (b *Bill) AssignedCount() int {
	count := 0
	for _, item := range b.Items {
		if len(item.AssignedTo) > 0 {
			count++
		}
	}
	return count
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
