package episode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextFromHTML(t *testing.T) {
	page := `<html><head><title>Notes</title><script>track()</script></head>
<body>
<nav>Home | About</nav>
<h1>Standup</h1>
<p>Alice joined <b>Acme</b> today</p>
<ul><li>billing</li><li>search</li></ul>
<footer>copyright</footer>
</body></html>`

	text, err := TextFromHTML(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, "Standup\n\nAlice joined Acme today\n\n- billing\n- search", text)
}

func TestTextFromHTMLKeepsImageAltText(t *testing.T) {
	text, err := TextFromHTML(strings.NewReader(`<p>Org chart <img src="x.png" alt="reporting lines"></p>`))
	require.NoError(t, err)
	assert.Equal(t, "Org chart [reporting lines]", text)
}
