package bill

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// CurrentUserID identifies the person using the app. It is seated
	// automatically and must never be removed by callers.
	CurrentUserID   = "user-me"
	CurrentUserName = "Você"

	DefaultItemName = "Novo Item"
	FeeLikeItemName = "Couvert / Extra"

	DefaultEstablishment  = "Restaurante"
	DefaultServicePercent = 10.0
)

// Palette is the fixed set of avatar colors handed out by insertion order
var Palette = []string{
	"red",
	"blue",
	"green",
	"yellow",
	"purple",
	"pink",
	"indigo",
	"orange",
}

// Item is one receipt line being split
type Item struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Quantity   int      `json:"quantity"`    // Informational only, TotalValue is the line price
	TotalValue float64  `json:"total_value"` // Full price for the line
	AssignedTo []string `json:"assigned_to"` // Person IDs who consumed the item
}

// Person is one bill participant
type Person struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Color           string `json:"color"`
	WantsServiceFee bool   `json:"wants_service_fee"` // Default opt-in, overridable through OptIns
}

// Bill holds everything the calculator needs
type Bill struct {
	Establishment  string   `json:"establishment"`
	ServicePercent float64  `json:"service_percent"` // Canonical percentage, already resolved
	Items          []Item   `json:"items"`
	People         []Person `json:"people"`
}

// ItemField names an editable Item field
type ItemField string

const (
	FieldName       ItemField = "name"
	FieldQuantity   ItemField = "quantity"
	FieldTotalValue ItemField = "total_value"
)

// New creates an empty bill
func New(establishment string, servicePercent float64) *Bill {
	return &Bill{
		Establishment:  establishment,
		ServicePercent: clampAmount(servicePercent),
		Items:          []Item{},
		People:         []Person{},
	}
}

// AddItem appends a blank item, or a cover-charge style item when feeLike is set
func (b *Bill) AddItem(feeLike bool) Item {
	name := DefaultItemName
	if feeLike {
		name = FeeLikeItemName
	}
	return b.AddLine(name, 1, 0)
}

// AddLine appends an item with the given values, typically from extraction output
func (b *Bill) AddLine(name string, quantity int, totalValue float64) Item {
	if quantity < 1 {
		quantity = 1
	}
	item := Item{
		ID:         uuid.NewString(),
		Name:       name,
		Quantity:   clampQuantity(float64(quantity)),
		TotalValue: clampAmount(totalValue),
		AssignedTo: []string{},
	}
	b.Items = append(b.Items, item)
	return item
}

// UpdateItem replaces one field of an item. Values arrive as form text and are
// parsed permissively. Unknown ids and fields are ignored.
func (b *Bill) UpdateItem(id string, field ItemField, value string) {
	idx := b.itemIndex(id)
	if idx < 0 {
		return
	}

	item := &b.Items[idx]
	switch field {
	case FieldName:
		item.Name = value
	case FieldQuantity:
		item.Quantity = parseQuantity(value)
	case FieldTotalValue:
		item.TotalValue = ParseAmount(value)
	}
}

// RemoveItem deletes an item if present
func (b *Bill) RemoveItem(id string) {
	idx := b.itemIndex(id)
	if idx < 0 {
		return
	}
	b.Items = append(b.Items[:idx], b.Items[idx+1:]...)
}

// Item looks up an item by id
func (b *Bill) Item(id string) (Item, bool) {
	idx := b.itemIndex(id)
	if idx < 0 {
		return Item{}, false
	}
	return b.Items[idx], true
}

// AddPerson appends a participant. Names are not validated here.
func (b *Bill) AddPerson(name string) Person {
	p := Person{
		ID:              uuid.NewString(),
		Name:            name,
		Color:           Palette[len(b.People)%len(Palette)],
		WantsServiceFee: true,
	}
	b.People = append(b.People, p)
	return p
}

// SeatCurrentUser resets the people list to only the current user
func (b *Bill) SeatCurrentUser() Person {
	me := Person{
		ID:              CurrentUserID,
		Name:            CurrentUserName,
		Color:           Palette[0],
		WantsServiceFee: true,
	}
	b.People = []Person{me}
	return me
}

// RemovePerson deletes a participant. Assignments that reference the person are
// kept and resolve to nothing at calculation time.
func (b *Bill) RemovePerson(id string) {
	for i, p := range b.People {
		if p.ID == id {
			b.People = append(b.People[:i], b.People[i+1:]...)
			return
		}
	}
}

// Person looks up a participant by id
func (b *Bill) Person(id string) (Person, bool) {
	for _, p := range b.People {
		if p.ID == id {
			return p, true
		}
	}
	return Person{}, false
}

// ItemsTotal sums the value of every item
func (b *Bill) ItemsTotal() float64 {
	var total float64
	for _, item := range b.Items {
		total += item.TotalValue
	}
	return total
}

func (b *Bill) itemIndex(id string) int {
	for i := range b.Items {
		if b.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// MaxQuantity bounds an item's quantity in both directions
const MaxQuantity = 1_000_000

func parseQuantity(value string) int {
	value = strings.TrimSpace(value)
	if q, err := strconv.Atoi(value); err == nil {
		return clampQuantity(float64(q))
	}
	// Accept "2.0" and friends from number inputs
	v, err := strconv.ParseFloat(strings.Replace(value, ",", ".", 1), 64)
	if err != nil || math.IsNaN(v) {
		return 0
	}
	return clampQuantity(v)
}

// clampQuantity converts to int only once v is within MaxQuantity
func clampQuantity(v float64) int {
	switch {
	case v > MaxQuantity:
		return MaxQuantity
	case v < -MaxQuantity:
		return -MaxQuantity
	default:
		return int(v)
	}
}
