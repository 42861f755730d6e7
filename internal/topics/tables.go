package topics

import "github.com/memvra/convmem/internal/convo"

// Tables is the keyword configuration the Extractor matches against.
// Terms are matched case-insensitively on whole words; multi-word terms match
// as a phrase.
type Tables struct {
	// Synonyms maps a canonical topic to the words that also signal it.
	Synonyms map[string][]string
	// NamedEntities maps a capitalized name (game, movie, show) to a coarse topic.
	NamedEntities map[string]string

	Positive   []string
	Negative   []string
	Important  []string
	Preference []string
	Rejection  []string
	Possessive []string

	// TypeWeights is added to the relevance of a memory of the given type.
	TypeWeights map[convo.MemoryType]float64
}

// DefaultTables returns the built-in Portuguese/English tables.
func DefaultTables() Tables {
	return Tables{
		Synonyms: map[string][]string{
			"jogo":           {"jogos", "jogar", "jogando", "joguei", "game", "games", "gaming", "gamer", "videogame"},
			"música":         {"musica", "músicas", "musicas", "banda", "cantar", "cantor", "song", "music", "album"},
			"filme":          {"filmes", "cinema", "movie", "movies"},
			"série":          {"serie", "séries", "series", "episódio", "episodio", "temporada"},
			"anime":          {"animes", "mangá", "manga", "otaku"},
			"trabalho":       {"trabalhar", "emprego", "chefe", "job", "work", "office"},
			"escola":         {"faculdade", "prova", "aula", "estudar", "school", "college", "exam"},
			"comida":         {"comer", "pizza", "almoço", "almoco", "jantar", "food", "lunch", "dinner"},
			"esporte":        {"futebol", "academia", "treino", "sport", "football", "gym"},
			"viagem":         {"viajar", "férias", "ferias", "trip", "travel", "vacation"},
			"tecnologia":     {"computador", "celular", "programação", "programacao", "código", "codigo", "tech", "computer", "code"},
			"relacionamento": {"namorada", "namorado", "crush", "namoro", "dating", "girlfriend", "boyfriend"},
			"família":        {"familia", "mãe", "mae", "pai", "irmão", "irmao", "irmã", "irma", "family", "mom", "dad"},
		},
		NamedEntities: map[string]string{
			"Minecraft": "jogo",
			"Fortnite":  "jogo",
			"Valorant":  "jogo",
			"Roblox":    "jogo",
			"Zelda":     "jogo",
			"Mario":     "jogo",
			"Pokemon":   "jogo",
			"GTA":       "jogo",
			"LoL":       "jogo",
			"Naruto":    "anime",
			"OnePiece":  "anime",
			"Marvel":    "filme",
			"Batman":    "filme",
			"Netflix":   "série",
			"Friends":   "série",
			"Spotify":   "música",
		},
		Positive: []string{
			"feliz", "legal", "adoro", "amo", "ótimo", "otimo", "incrível", "incrivel",
			"massa", "maravilhoso", "happy", "great", "love", "awesome", "amazing", "nice",
		},
		Negative: []string{
			"triste", "odeio", "ruim", "chato", "péssimo", "pessimo", "horrível", "horrivel",
			"raiva", "cansado", "sad", "hate", "bad", "terrible", "awful", "angry", "boring",
		},
		Important: []string{
			"sempre", "nunca", "importante", "lembrar", "lembra", "aniversário", "aniversario",
			"nome", "família", "familia", "always", "never", "important", "remember",
			"birthday", "name", "family",
		},
		Preference: []string{
			"eu gosto", "gosto de", "adoro", "eu amo", "prefiro", "favorito", "favorita",
			"i like", "i love", "i prefer", "my favorite", "favourite",
		},
		Rejection: []string{
			"não gosto", "nao gosto", "odeio", "detesto", "não suporto", "nao suporto",
			"i hate", "i don't like", "i dislike", "can't stand",
		},
		Possessive: []string{
			"meu", "minha", "meus", "minhas", "my", "mine",
		},
		TypeWeights: map[convo.MemoryType]float64{
			convo.TypePreference:   0.15,
			convo.TypePersonalInfo: 0.2,
			convo.TypeOpinion:      0.1,
			convo.TypeFact:         0.05,
		},
	}
}
