package smtpauth

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSPF struct {
	verdict Verdict
	err     error
	calls   int
}

func (f *fakeSPF) CheckHost(clientIP net.IP, heloDomain, mailFromDomain string) (Verdict, error) {
	f.calls++
	return f.verdict, f.err
}

type fakeDKIM struct {
	headers [][]byte
	bodies  [][]byte
	verdict Verdict
	domain  string
}

func (f *fakeDKIM) WriteHeader(raw []byte) error {
	f.headers = append(f.headers, append([]byte{}, raw...))
	return nil
}

func (f *fakeDKIM) WriteBody(chunk []byte) error {
	f.bodies = append(f.bodies, append([]byte{}, chunk...))
	return nil
}

func (f *fakeDKIM) Verify() (Verdict, string, error) {
	return f.verdict, f.domain, nil
}

type fakeDMARC struct {
	lastFromDomain                string
	lastSPF, lastDKIM             Verdict
	lastSPFDomain, lastDKIMDomain string
	verdict                       Verdict
}

func (f *fakeDMARC) Evaluate(fromDomain string, spf Verdict, spfDomain string, dkim Verdict, dkimDomain string) (Verdict, error) {
	f.lastFromDomain = fromDomain
	f.lastSPF = spf
	f.lastSPFDomain = spfDomain
	f.lastDKIM = dkim
	f.lastDKIMDomain = dkimDomain
	return f.verdict, nil
}

func TestPipelineDetectsHeaderEndInSingleWrite(t *testing.T) {
	dkim := &fakeDKIM{verdict: VerdictPass, domain: "example.com"}
	p := NewPipeline(dkim, nil)

	msg := "From: a@example.com\r\nTo: b@example.org\r\n\r\nhello body\r\n"
	_, err := p.Write([]byte(msg))
	require.NoError(t, err)

	require.Len(t, dkim.headers, 1)
	assert.Equal(t, "From: a@example.com\r\nTo: b@example.org", string(dkim.headers[0]))
	require.Len(t, dkim.bodies, 1)
	assert.Equal(t, "hello body\r\n", string(dkim.bodies[0]))
}

func TestPipelineDetectsHeaderEndSplitAcrossWrites(t *testing.T) {
	dkim := &fakeDKIM{verdict: VerdictPass}
	p := NewPipeline(dkim, nil)

	fragments := []string{
		"From: a@example.com\r\nSubject: hi\r",
		"\n\r",
		"\nbody line one\r\n",
		"body line two\r\n",
	}
	for _, frag := range fragments {
		_, err := p.Write([]byte(frag))
		require.NoError(t, err)
	}

	joinedHeaders := ""
	for _, h := range dkim.headers {
		joinedHeaders += string(h)
	}
	assert.Equal(t, "From: a@example.com\r\nSubject: hi", joinedHeaders)

	joinedBody := ""
	for _, b := range dkim.bodies {
		joinedBody += string(b)
	}
	assert.Equal(t, "body line one\r\nbody line two\r\n", joinedBody)
}

func TestPipelineFullFlowWithSPFDKIMDMARC(t *testing.T) {
	spf := &fakeSPF{verdict: VerdictPass}
	dkim := &fakeDKIM{verdict: VerdictPass, domain: "example.com"}
	dmarc := &fakeDMARC{verdict: VerdictPass}

	p := NewPipeline(dkim, dmarc)
	require.NoError(t, p.EvaluateSPF(spf, net.ParseIP("203.0.113.4"), "mail.example.com", "example.com"))

	msg := "From: Alice <alice@example.com>\r\nSubject: hi\r\n\r\nbody\r\n"
	_, err := p.Write([]byte(msg))
	require.NoError(t, err)

	result, err := p.EndData()
	require.NoError(t, err)

	assert.Equal(t, VerdictPass, result.SPF)
	assert.Equal(t, "example.com", result.SPFDomain)
	assert.Equal(t, VerdictPass, result.DKIM)
	assert.Equal(t, "example.com", result.DKIMDomain)
	assert.Equal(t, VerdictPass, result.DMARC)
	assert.Equal(t, "example.com", result.FromDomain)

	assert.Equal(t, 1, spf.calls)
	assert.Equal(t, "example.com", dmarc.lastFromDomain)
}

func TestPipelineEndDataTwiceWithoutResetErrors(t *testing.T) {
	p := NewPipeline(nil, nil)
	_, err := p.Write([]byte("Subject: x\r\n\r\nbody\r\n"))
	require.NoError(t, err)

	_, err = p.EndData()
	require.NoError(t, err)

	_, err = p.EndData()
	assert.Error(t, err)
}

func TestPipelineResetAllowsReuse(t *testing.T) {
	dkim := &fakeDKIM{verdict: VerdictPass}
	p := NewPipeline(dkim, nil)

	_, err := p.Write([]byte("Subject: one\r\n\r\nbody one\r\n"))
	require.NoError(t, err)
	_, err = p.EndData()
	require.NoError(t, err)

	p.Reset()

	_, err = p.Write([]byte("Subject: two\r\n\r\nbody two\r\n"))
	require.NoError(t, err)
	result, err := p.EndData()
	require.NoError(t, err)
	assert.Equal(t, VerdictNone, result.SPF)
}

func TestPipelineWriteAfterEndDataWithoutResetErrors(t *testing.T) {
	p := NewPipeline(nil, nil)
	_, err := p.Write([]byte("Subject: x\r\n\r\nbody\r\n"))
	require.NoError(t, err)
	_, err = p.EndData()
	require.NoError(t, err)

	_, err = p.Write([]byte("more"))
	assert.Error(t, err)
}
