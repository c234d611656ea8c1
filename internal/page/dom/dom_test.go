package dom

import (
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const testPage = `<!doctype html>
<html><head><style>
	.fixed { position: fixed; }
</style></head>
<body>
	<div id="carousel-wrap">
		<amp-carousel id="carousel">
			<amp-img class="slide"></amp-img>
			<amp-img class="slide" placeholder></amp-img>
		</amp-carousel>
	</div>
	<div><p>text</p><amp-ad class="fixed"></amp-ad></div>
</body></html>`

func parseTestPage(t *testing.T) *Document {
	t.Helper()
	doc, err := ParseString(testPage)
	require.NoError(t, err)
	return doc
}

func TestFindCustomElements(t *testing.T) {
	doc := parseTestPage(t)

	nodes, err := doc.FindCustomElements("amp-")
	require.NoError(t, err)
	require.Len(t, nodes, 4)
	assert.Equal(t, "amp-carousel", TagName(nodes[0]))
	assert.Equal(t, "amp-img", TagName(nodes[1]))
	assert.Equal(t, "amp-ad", TagName(nodes[3]))

	_, err = doc.FindCustomElements("amp-']")
	assert.Error(t, err)
}

func TestTreeHelpers(t *testing.T) {
	doc := parseTestPage(t)
	carousel := doc.FindByID("carousel")
	require.NotNil(t, carousel)
	slides := htmlquery.Find(carousel, "//amp-img")
	require.Len(t, slides, 2)

	assert.True(t, Contains(carousel, slides[0]))
	assert.True(t, Contains(carousel, carousel), "a node contains itself")
	assert.False(t, Contains(slides[0], carousel))
	assert.Equal(t, carousel, ParentElement(slides[1]))
	assert.True(t, IsBody(doc.Body()))
	assert.True(t, doc.Contains(slides[0]))

	var seen []string
	WalkDescendants(carousel, func(n *html.Node) { seen = append(seen, TagName(n)) })
	assert.Equal(t, []string{"amp-img", "amp-img"}, seen)

	assert.True(t, HasAttr(slides[1], "placeholder"))
	assert.False(t, HasAttr(slides[0], "placeholder"))
	SetAttr(slides[0], "data-x", "1")
	assert.Equal(t, "1", Attr(slides[0], "DATA-X"))
	SetAttr(slides[0], "data-x", "2")
	assert.Equal(t, "2", Attr(slides[0], "data-x"))
	RemoveAttr(slides[0], "data-x")
	assert.False(t, HasAttr(slides[0], "data-x"))
}

func TestInDocument_Detached(t *testing.T) {
	doc := parseTestPage(t)
	carousel := doc.FindByID("carousel")
	slide := htmlquery.FindOne(carousel, "//amp-img")
	require.True(t, InDocument(slide))

	carousel.Parent.RemoveChild(carousel)
	assert.False(t, InDocument(slide), "subtree removed from the document is detached")
	assert.False(t, doc.Contains(slide))
	assert.False(t, InDocument(nil))
}

func TestComputedStyle(t *testing.T) {
	doc := parseTestPage(t)
	ad := htmlquery.FindOne(doc.Root, "//amp-ad")
	assert.Equal(t, "fixed", doc.ComputedStyle(ad)["position"])
}

func TestXPath(t *testing.T) {
	doc := parseTestPage(t)
	slides := htmlquery.Find(doc.Root, "//amp-img")
	require.Len(t, slides, 2)
	assert.Equal(t, "//*[@id='carousel']/amp-img[2]", XPath(slides[1]))

	ad := htmlquery.FindOne(doc.Root, "//amp-ad")
	assert.Equal(t, "/html[1]/body[1]/div[2]/amp-ad[1]", XPath(ad))
	assert.Equal(t, "", XPath(nil))
}
