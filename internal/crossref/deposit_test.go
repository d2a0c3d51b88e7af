package crossref

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const journalBody = `<?xml version="1.0" encoding="UTF-8"?>
<journal xmlns="http://www.crossref.org/schema/4.4.0">
  <journal_metadata>
    <full_title>Journal of Testing</full_title>
    <abbrev_title>J. Test.</abbrev_title>
  </journal_metadata>
  <journal_article>
    <titles>
      <title>An Article</title>
    </titles>
    <doi_data>
      <timestamp>20080808</timestamp>
      <doi>10.9999/REPLACED</doi>
      <resource>http://old.example/x</resource>
    </doi_data>
  </journal_article>
</journal>`

func TestValidateBodyNormalizes(t *testing.T) {
	out, err := ValidateBody(journalBody)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "<?xml version=\"1.0\"?>\n"))
	assert.Contains(t, out, "<doi>(:tba)</doi>")
	assert.Contains(t, out, "<resource>(:tba)</resource>")
	assert.NotContains(t, out, "10.9999/REPLACED")
	assert.NotContains(t, out, "timestamp")
	assert.Contains(t, out, "xsi:schemaLocation=\"http://www.crossref.org/schema/4.4.0 "+
		"http://www.crossref.org/schema/deposit/crossref4.4.0.xsd\"")
}

func TestValidateBodyIdempotent(t *testing.T) {
	out, err := ValidateBody(journalBody)
	require.NoError(t, err)
	again, err := ValidateBody(out)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestValidateBodyAcceptsWrappedForms(t *testing.T) {
	// A full doi_batch document and a bare body element both normalize
	// to the same content element.
	wrapped := `<doi_batch xmlns="http://www.crossref.org/schema/4.4.0" version="4.4.0">
  <head>
    <doi_batch_id>x</doi_batch_id>
  </head>
  <body>
    <journal>
      <journal_article>
        <doi_data><doi>10.1/A</doi><resource>http://a</resource></doi_data>
      </journal_article>
    </journal>
  </body>
</doi_batch>`
	out, err := ValidateBody(wrapped)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "<journal"))
	assert.NotContains(t, out, "doi_batch")
	assert.NotContains(t, out, "<head>")
}

func TestValidateBodyRejections(t *testing.T) {
	ns := "http://www.crossref.org/schema/4.4.0"
	tests := []struct {
		name string
		body string
	}{
		{name: "bad XML version",
			body: `<?xml version="1.1"?><journal xmlns="` + ns + `"/>`},
		{name: "bad encoding",
			body: `<?xml version="1.0" encoding="latin-1"?><journal xmlns="` + ns + `"/>`},
		{name: "standalone no",
			body: `<?xml version="1.0" standalone="no"?><journal xmlns="` + ns + `"/>`},
		{name: "unrecognized namespace",
			body: `<journal xmlns="http://www.crossref.org/schema/3.0.0"/>`},
		{name: "unrecognized root",
			body: `<pamphlet xmlns="` + ns + `"/>`},
		{name: "no doi_data",
			body: `<journal xmlns="` + ns + `"/>`},
		{name: "two doi_data",
			body: `<journal xmlns="` + ns + `"><journal_article>` +
				`<doi_data><doi>a</doi><resource>u</resource></doi_data>` +
				`<doi_data><doi>b</doi><resource>u</resource></doi_data>` +
				`</journal_article></journal>`},
		{name: "collection item doi",
			body: `<journal xmlns="` + ns + `"><journal_article><doi_data>` +
				`<doi>a</doi><resource>u</resource>` +
				`<collection property="list-based"><item><doi>b</doi></item></collection>` +
				`</doi_data></journal_article></journal>`},
		{name: "not XML",
			body: `this is not XML`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateBody(tt.body)
			assert.Error(t, err)
		})
	}
}

func TestValidateBodySanitizesControlCharacters(t *testing.T) {
	body := strings.Replace(journalBody, "An Article", "An\x01Article", 1)
	out, err := ValidateBody(body)
	require.NoError(t, err)
	assert.Contains(t, out, "An?Article")
}

func TestBuildDepositEnvelope(t *testing.T) {
	normalized, err := ValidateBody(journalBody)
	require.NoError(t, err)

	dep, err := BuildDeposit(normalized,
		Depositor{Name: "MintBind", Email: "mb@example.org"},
		"cdl", "10.5072/FK2TEST", "http://target.example/x", false, false)
	require.NoError(t, err)

	assert.NotEmpty(t, dep.BatchID)
	assert.Contains(t, dep.Envelope, "<doi_batch_id>"+dep.BatchID+"</doi_batch_id>")
	assert.Contains(t, dep.Envelope, "<doi>10.5072/FK2TEST</doi>")
	assert.Contains(t, dep.Envelope, "<resource>http://target.example/x</resource>")
	assert.Contains(t, dep.Envelope, "<depositor_name>MintBind</depositor_name>")
	assert.Contains(t, dep.Envelope, "<email_address>mb@example.org</email_address>")
	assert.Contains(t, dep.Envelope, "<registrant>cdl</registrant>")
	assert.Contains(t, dep.Envelope, `version="4.4.0"`)
	// The schema location moves from the content element to the
	// doi_batch root; it appears exactly once.
	assert.Contains(t, dep.Envelope,
		`<doi_batch xmlns="http://www.crossref.org/schema/4.4.0" xmlns:xsi=`)
	assert.Equal(t, 1, strings.Count(dep.Envelope, "xsi:schemaLocation="))
	assert.Contains(t, dep.Envelope, "xsi:schemaLocation=\"http://www.crossref.org/schema/4.4.0 "+
		"http://www.crossref.org/schema/deposit/crossref4.4.0.xsd\"")
	assert.NotContains(t, dep.Envelope, "(:tba)")
}

func TestBuildDepositBodyOnly(t *testing.T) {
	normalized, err := ValidateBody(journalBody)
	require.NoError(t, err)

	dep, err := BuildDeposit(normalized, Depositor{}, "", "10.1/A", "http://a",
		false, true)
	require.NoError(t, err)
	assert.Empty(t, dep.BatchID)
	assert.Empty(t, dep.Envelope)
	assert.Contains(t, dep.Body, "<doi>10.1/A</doi>")
	assert.NotContains(t, dep.Body, "doi_batch")
}

func TestBuildDepositWithdrawsTitles(t *testing.T) {
	normalized, err := ValidateBody(journalBody)
	require.NoError(t, err)

	dep, err := BuildDeposit(normalized, Depositor{Name: "d", Email: "e"},
		"r", "10.1/A", "http://datacite.org/invalidDOI", true, false)
	require.NoError(t, err)
	assert.Contains(t, dep.Envelope, "<title>WITHDRAWN: An Article</title>")

	// Titles outside the doi_data parent stay untouched.
	assert.Contains(t, dep.Envelope, "<full_title>Journal of Testing</full_title>")

	// The marker is a property of the submitted envelope; the body form
	// keeps the original titles.
	assert.NotContains(t, dep.Body, "WITHDRAWN")
	assert.Contains(t, dep.Body, "<title>An Article</title>")
}
