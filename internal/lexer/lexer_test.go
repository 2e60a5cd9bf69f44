package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/pseudocode/internal/token"
)

func allTokens(t *testing.T, src string) []token.Token {
	t.Helper()
	l := New("test.pc", src)
	var toks []token.Token
	for {
		tok, err := l.Next()
		require.NoError(t, err)
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			break
		}
	}
	return toks
}

func TestLexerKeywordsAndIdents(t *testing.T) {
	toks := allTokens(t, "fn main x_1 end")
	require.Len(t, toks, 5)
	assert.Equal(t, token.FN, toks[0].Kind)
	assert.Equal(t, token.IDENT, toks[1].Kind)
	assert.Equal(t, "main", toks[1].Lexeme)
	assert.Equal(t, token.IDENT, toks[2].Kind)
	assert.Equal(t, token.END, toks[3].Kind)
	assert.Equal(t, token.EOF, toks[4].Kind)
}

func TestLexerNumbers(t *testing.T) {
	toks := allTokens(t, "42 3.14 1_000_000")
	require.Len(t, toks, 4)
	assert.Equal(t, token.INT, toks[0].Kind)
	assert.Equal(t, "42", toks[0].Lexeme)
	assert.Equal(t, token.FLOAT, toks[1].Kind)
	assert.Equal(t, "3.14", toks[1].Lexeme)
	assert.Equal(t, token.INT, toks[2].Kind)
	assert.Equal(t, "1000000", toks[2].Lexeme)
}

func TestLexerStringsAndEscapes(t *testing.T) {
	toks := allTokens(t, `"a\nb" 'c'`)
	require.Len(t, toks, 3)
	assert.Equal(t, token.STRING, toks[0].Kind)
	assert.Equal(t, "a\nb", toks[0].Lexeme)
	assert.Equal(t, token.STRING, toks[1].Kind)
	assert.Equal(t, "c", toks[1].Lexeme)
}

func TestLexerOperators(t *testing.T) {
	toks := allTokens(t, "<= >= == != -> .. = < >")
	kinds := make([]token.Kind, 0, len(toks))
	for _, tk := range toks {
		kinds = append(kinds, tk.Kind)
	}
	assert.Equal(t, []token.Kind{
		token.LE, token.GE, token.EQ, token.NEQ, token.ARROW, token.DOTDOT,
		token.ASSIGN, token.LT, token.GT, token.EOF,
	}, kinds)
}

func TestLexerComments(t *testing.T) {
	toks := allTokens(t, "1 // comment\n2 /* block\ncomment */ 3")
	require.Len(t, toks, 4)
	assert.Equal(t, "1", toks[0].Lexeme)
	assert.Equal(t, "2", toks[1].Lexeme)
	assert.Equal(t, "3", toks[2].Lexeme)
}

func TestLexerUnterminatedString(t *testing.T) {
	l := New("test.pc", `"abc`)
	_, err := l.Next()
	require.Error(t, err)
	lerr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, UnterminatedString, lerr.Kind)
}

func TestLexerLineColumnTracking(t *testing.T) {
	l := New("test.pc", "a\nb")
	tok1, err := l.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, tok1.Pos.Line)
	tok2, err := l.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, tok2.Pos.Line)
}
