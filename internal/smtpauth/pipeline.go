package smtpauth

import (
	"bytes"
	"net"
	"sync"

	"github.com/pkg/errors"
)

var crlfcrlf = []byte("\r\n\r\n")

// phase tracks where in the DATA stream the pipeline currently is.
type phase int

const (
	phaseHeaders phase = iota
	phaseBody
	phaseDone
)

// ParseError marks a pipeline protocol violation (header section too
// large, EndData called before Reset after a prior message), as distinct
// from a verifier returning an error.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "smtp auth pipeline: " + e.Reason }

// Result is the combined verdict returned once a message's DATA phase
// has ended.
type Result struct {
	SPF        Verdict
	SPFDomain  string
	DKIM       Verdict
	DKIMDomain string
	DMARC      Verdict
	FromDomain string
}

// Pipeline is the writable sink an SMTP server feeds DATA-phase bytes
// into. It detects the end of headers (CRLF CRLF, possibly split across
// separate Write calls), forks bytes to a DKIM verifier's header and
// body canonicalization contexts, and keeps a header-only copy to
// extract the RFC 5322 From-domain DMARC needs for alignment. One
// Pipeline is reusable across messages on a connection via Reset.
type Pipeline struct {
	dkim  DKIMVerifier
	dmarc DMARCEvaluator

	// maxHeaderBytes bounds how much header data is buffered before
	// end-of-headers is found, the same protection
	// internal/http1.Parser.ReadHeaders applies to its own header
	// budget.
	maxHeaderBytes int

	mu         sync.Mutex
	phase      phase
	headerBuf  bytes.Buffer
	spfVerdict Verdict
	spfDomain  string
	ended      bool
}

// NewPipeline builds a Pipeline. dkim and dmarc may be nil, in which case
// their portion of Result is left at VerdictNone — callers that only
// want SPF can omit both.
func NewPipeline(dkim DKIMVerifier, dmarc DMARCEvaluator) *Pipeline {
	return &Pipeline{dkim: dkim, dmarc: dmarc, maxHeaderBytes: 1 << 20}
}

// EvaluateSPF runs SPF against the client IP and HELO/MAIL FROM domains.
// Per spec this happens at MAIL FROM time, before any DATA bytes arrive.
func (p *Pipeline) EvaluateSPF(verifier SPFVerifier, clientIP net.IP, heloDomain, mailFromDomain string) error {
	verdict, err := verifier.CheckHost(clientIP, heloDomain, mailFromDomain)
	p.mu.Lock()
	p.spfVerdict = verdict
	p.spfDomain = mailFromDomain
	p.mu.Unlock()
	return err
}

// Write feeds len(p) bytes of the DATA phase into the pipeline, forking
// to the DKIM verifier and the header-only copy as appropriate. It
// implements io.Writer.
func (p *Pipeline) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := len(b)
	if p.ended {
		return 0, &ParseError{Reason: "write after EndData without Reset"}
	}

	for len(b) > 0 && p.phase == phaseHeaders {
		if p.headerBuf.Len()+len(b) > p.maxHeaderBytes {
			return 0, &ParseError{Reason: "header section exceeds limit"}
		}
		p.headerBuf.Write(b)

		idx := bytes.Index(p.headerBuf.Bytes(), crlfcrlf)
		if idx < 0 {
			b = nil
			break
		}

		headerBytes := make([]byte, idx)
		copy(headerBytes, p.headerBuf.Bytes()[:idx])
		bodyStart := p.headerBuf.Bytes()[idx+len(crlfcrlf):]
		leftover := make([]byte, len(bodyStart))
		copy(leftover, bodyStart)

		p.headerBuf.Reset()
		p.headerBuf.Write(headerBytes)

		if p.dkim != nil {
			if err := p.dkim.WriteHeader(headerBytes); err != nil {
				return 0, errors.Wrap(err, "forking header bytes to dkim verifier")
			}
		}

		p.phase = phaseBody
		b = leftover
	}

	if len(b) > 0 && p.phase == phaseBody && p.dkim != nil {
		if err := p.dkim.WriteBody(b); err != nil {
			return 0, errors.Wrap(err, "forking body bytes to dkim verifier")
		}
	}

	return total, nil
}

// EndData closes out the current message, running the DKIM and DMARC
// verifiers (if configured) and returning the combined Result. It fires
// exactly once per message; call Reset before the next message's DATA
// phase begins.
func (p *Pipeline) EndData() (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ended {
		return Result{}, &ParseError{Reason: "EndData called twice without Reset"}
	}
	p.ended = true

	result := Result{SPF: p.spfVerdict, SPFDomain: p.spfDomain}

	if p.dkim != nil {
		verdict, domain, err := p.dkim.Verify()
		if err != nil {
			return Result{}, errors.Wrap(err, "dkim verification")
		}
		result.DKIM = verdict
		result.DKIMDomain = domain
	}

	result.FromDomain = fromDomain(p.headerBuf.Bytes())

	// DMARC is evaluated with the DKIM verdict above. Without a DKIM
	// verifier that verdict is VerdictNone: configuring DMARC does not
	// turn DKIM verification on by itself.
	if p.dmarc != nil {
		verdict, err := p.dmarc.Evaluate(result.FromDomain, result.SPF, result.SPFDomain, result.DKIM, result.DKIMDomain)
		if err != nil {
			return Result{}, errors.Wrap(err, "dmarc evaluation")
		}
		result.DMARC = verdict
	}

	return result, nil
}

// Reset clears all per-message state so the Pipeline can be reused for
// the next message on the same connection.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phaseHeaders
	p.headerBuf.Reset()
	p.spfVerdict = VerdictNone
	p.spfDomain = ""
	p.ended = false
}

// fromDomain extracts the domain portion of the RFC 5322 From header's
// address for DMARC alignment. This is a minimal address-domain
// extractor, not a full RFC 5322/5321 mailbox parser: it takes the
// substring after the last '@' up to the next delimiter.
func fromDomain(headerBytes []byte) string {
	lines := bytes.Split(headerBytes, []byte("\r\n"))
	for _, line := range lines {
		if len(line) < 5 {
			continue
		}
		if !bytes.EqualFold(line[:5], []byte("from:")) {
			continue
		}
		return extractDomain(string(line[5:]))
	}
	return ""
}

func extractDomain(value string) string {
	at := bytes.LastIndexByte([]byte(value), '@')
	if at < 0 {
		return ""
	}
	rest := value[at+1:]
	end := len(rest)
	for i, c := range rest {
		if c == '>' || c == ' ' || c == '\t' || c == ';' || c == ',' {
			end = i
			break
		}
	}
	return rest[:end]
}
