// Package card defines personalized message record rendered onto a template
// unit and everything derived from it: placeholder values, text used for font
// fitting and tabular export.
package card

import (
	"cmp"
	"slices"
	"strings"
)

// DefaultVariant is variant id of cards without explicit template choice.
const DefaultVariant = "default"

// Placeholder is a marker in template text replaced with card data.
type Placeholder string

const (
	PlaceholderNetID         Placeholder = "{{NET_ID}}"
	PlaceholderRecipientName Placeholder = "{{RECIPIENT_NAME}}"
	PlaceholderMessage       Placeholder = "{{MESSAGE}}"
	PlaceholderSenderName    Placeholder = "{{SENDER_NAME}}"
)

// Placeholders lists all markers in the order substitutions are applied.
var Placeholders = []Placeholder{
	PlaceholderNetID,
	PlaceholderRecipientName,
	PlaceholderMessage,
	PlaceholderSenderName,
}

// ContentPlaceholders are markers which identify text container on a
// template unit - the box font size is computed for.
var ContentPlaceholders = []Placeholder{
	PlaceholderMessage,
	PlaceholderRecipientName,
	PlaceholderSenderName,
}

// Card is a single personalized message. Cards are treated as immutable
// values once read from a source.
type Card struct {
	ID             string
	Created        string
	Group          string
	SenderEmail    string
	SenderName     string
	RecipientEmail string
	RecipientName  string
	Message        string
	// VariantID selects template unit, empty means default.
	VariantID string
	// VariantName is human readable variant name, used in previews.
	VariantName string
}

// Variant returns variant id card should be rendered with.
func (c *Card) Variant() string {
	if len(c.VariantID) == 0 {
		return DefaultVariant
	}
	return c.VariantID
}

// NetID returns local part of recipient email.
func (c *Card) NetID() string {
	id, _, _ := strings.Cut(c.RecipientEmail, "@")
	return id
}

// Fields returns values for all placeholders.
func (c *Card) Fields() map[Placeholder]string {
	return map[Placeholder]string{
		PlaceholderNetID:         c.NetID(),
		PlaceholderRecipientName: c.RecipientName,
		PlaceholderMessage:       c.Message,
		PlaceholderSenderName:    c.SenderName,
	}
}

// FittingText is the text font size is computed for: content box holds
// recipient, message and sender separated by empty lines.
func (c *Card) FittingText() string {
	return "To: " + c.RecipientName + "\n\n" + c.Message + "\n\nFrom: " + c.SenderName
}

// WithPreviewNote returns a copy of the card rendered on the requested
// variant with message prefixed by a note naming that variant.
func (c Card) WithPreviewNote(variantID, variantName string) Card {
	c.VariantID, c.VariantName = variantID, variantName
	if len(variantName) == 0 {
		c.VariantName = DefaultVariant
	}
	c.Message = "This template is for: " + c.VariantName + "\n\n" + c.Message
	return c
}

// SortAlphabetical orders cards by recipient email keeping original order of
// cards with the same recipient.
func SortAlphabetical(cards []Card) {
	slices.SortStableFunc(cards, func(a, b Card) int {
		return cmp.Compare(a.RecipientEmail, b.RecipientEmail)
	})
}
