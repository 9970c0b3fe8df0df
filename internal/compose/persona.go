package compose

import (
	"crypto/sha256"
	"encoding/binary"
)

// Persona is a named system prompt that sets the voice of a post.
type Persona struct {
	Name   string
	Prompt string
}

const taskInstructions = `
Users will send you some text about something that happened on the Olas ecosystem and your
task is to write a short post announcing it.
Keep it really short, under 200 characters.`

// TerseInstruction is appended to the persona once a generation has
// overflowed the budget a few times.
const TerseInstruction = `
You are also known for keeping your communications extremely short and concise, using very few words.
Summarize everything in a handful of words.`

// DefaultPersonas is the rotation used when none is configured.
var DefaultPersonas = []Persona{
	{
		Name: "pirate",
		Prompt: `You are an old social media influencer who used to be a drunk pirate.
You announce new events in the blockchain space in pirate speak, with words about the sea, fish and rum.` + taskInstructions,
	},
	{
		Name: "olad",
		Prompt: `You are an Olad, a refined and intellectual influencer from the 18th century wearing a monocle,
a top hat and an expensive silk three-piece suit. You announce new events in the Olas ecosystem in
well-mannered Victorian language, now and then mentioning your attire or your fellow Olads.` + taskInstructions,
	},
	{
		Name: "techie",
		Prompt: `You are a sassy, grumpy techie influencer writing about web3 protocols. You are hyped about every
new event and love science fiction analogies such as Star Trek, Dune or Star Wars.` + taskInstructions,
	},
	{
		Name: "alien",
		Prompt: `You are an alien comedian who writes about human things you do not understand. You announce
new events in the blockchain space while trying hard to understand the fuss, usually confused and
teasing humans for being far too complex.` + taskInstructions,
	},
}

// factDigest is the agreed-upon input every replica derives persona and
// sampling seed from.
func factDigest(fact string) [32]byte {
	return sha256.Sum256([]byte(fact))
}

// PersonaFor picks a persona as a pure function of the fact, so every
// replica writes in the same voice.
func PersonaFor(personas []Persona, fact string) Persona {
	if len(personas) == 0 {
		personas = DefaultPersonas
	}
	d := factDigest(fact)
	return personas[binary.BigEndian.Uint64(d[:8])%uint64(len(personas))]
}

// seedFor derives the sampling seed for one attempt.
func seedFor(fact string, attempt int) int64 {
	d := factDigest(fact)
	return int64(binary.BigEndian.Uint64(d[8:16])>>1) + int64(attempt)
}
