package cbr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"
)

// CBRClient reads the currency directory of the Central Bank of Russia
type CBRClient struct {
	url    string
	client *http.Client
	log    *logrus.Logger
}

// NewCBRClient initializes a new CBR client
func NewCBRClient(url string, timeout time.Duration, log *logrus.Logger) *CBRClient {
	return &CBRClient{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// buildSOAPRequest creates a SOAP request for the currency list
func (c *CBRClient) buildSOAPRequest() string {
	return `<?xml version="1.0" encoding="utf-8"?>
		<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
			<soap12:Body>
				<EnumValutes xmlns="http://web.cbr.ru/">
					<Seld>false</Seld>
				</EnumValutes>
			</soap12:Body>
		</soap12:Envelope>`
}

// sendRequest sends SOAP request to CBR
func (c *CBRClient) sendRequest(ctx context.Context, soapRequest string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(soapRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://web.cbr.ru/EnumValutes")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debugf("CBR XML response: %d bytes", len(body))
	return body, nil
}

// parseXMLResponse maps ISO letter codes to ISO numeric codes
func (c *CBRClient) parseXMLResponse(rawBody []byte) (map[string]int64, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	items := doc.FindElements("//diffgram/ValuteData/EnumValutes")
	if len(items) == 0 {
		return nil, fmt.Errorf("no currency data found in XML")
	}

	currencies := map[string]int64{"RUB": 643}
	for _, item := range items {
		codeEl := item.FindElement("./VcharCode")
		numEl := item.FindElement("./VnumCode")
		if codeEl == nil || numEl == nil {
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(codeEl.Text()))
		num, err := strconv.ParseInt(strings.TrimSpace(numEl.Text()), 10, 64)
		if code == "" || err != nil {
			continue
		}
		currencies[code] = num
	}
	return currencies, nil
}

// Currencies returns the directory as ISO code → numeric id
func (c *CBRClient) Currencies(ctx context.Context) (map[string]int64, error) {
	body, err := c.sendRequest(ctx, c.buildSOAPRequest())
	if err != nil {
		return nil, err
	}

	currencies, err := c.parseXMLResponse(body)
	if err != nil {
		return nil, err
	}

	c.log.Infof("Retrieved %d currencies from CBR", len(currencies))
	return currencies, nil
}
