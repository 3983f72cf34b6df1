package main

import (
	"crypto/rand"
)

// Suit is one of the four standard playing card suits.
type Suit string

const (
	Hearts   Suit = "hearts"
	Diamonds Suit = "diamonds"
	Clubs    Suit = "clubs"
	Spades   Suit = "spades"
)

var suits = []Suit{Hearts, Diamonds, Clubs, Spades}

// IsRed reports whether the suit is hearts or diamonds.
func (s Suit) IsRed() bool {
	return s == Hearts || s == Diamonds
}

// Card is an immutable playing card. Rank runs 1 (ace) through 13 (king).
type Card struct {
	Suit Suit `json:"suit"`
	Rank int  `json:"rank"`
}

// Deck is an ordered stack of cards, owned by exactly one room.
type Deck struct {
	cards []Card
}

// NewDeck returns a full, shuffled 52-card deck.
func NewDeck() *Deck {
	d := &Deck{}
	d.Reset()
	return d
}

// Reset rebuilds all 52 cards and reshuffles.
func (d *Deck) Reset() {
	d.cards = d.cards[:0]
	for _, s := range suits {
		for r := 1; r <= 13; r++ {
			d.cards = append(d.cards, Card{Suit: s, Rank: r})
		}
	}
	d.shuffle()
}

// shuffle performs a Fisher-Yates shuffle using crypto/rand.
func (d *Deck) shuffle() {
	for i := len(d.cards) - 1; i > 0; i-- {
		var b [1]byte
		if _, err := rand.Read(b[:]); err != nil {
			continue
		}
		j := int(b[0]) % (i + 1)
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	}
}

// Draw removes and returns the top card. The second return value is
// false when the deck is empty.
func (d *Deck) Draw() (Card, bool) {
	if len(d.cards) == 0 {
		return Card{}, false
	}
	c := d.cards[len(d.cards)-1]
	d.cards = d.cards[:len(d.cards)-1]
	return c, true
}

// Remaining returns the number of undrawn cards.
func (d *Deck) Remaining() int {
	return len(d.cards)
}
