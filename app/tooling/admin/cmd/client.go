package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ardanlabs/dpos/business/web/errs"
	"github.com/cockroachdb/errors"
)

// timeout bounds every call to the node.
const timeout = 10 * time.Second

var client = http.Client{Timeout: timeout}

// call sends the request body as JSON and decodes the response into resp.
// A non 2xx status is returned as an error carrying the node's message.
func call(method string, endpoint string, body any, resp any) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url+endpoint, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var er errs.Response
		if err := json.NewDecoder(res.Body).Decode(&er); err != nil {
			return errors.Newf("%s %s: status %d", method, endpoint, res.StatusCode)
		}
		return errors.Newf("%s %s: status %d: %s %v", method, endpoint, res.StatusCode, er.Error, er.Fields)
	}

	if resp == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}

	return json.NewDecoder(res.Body).Decode(resp)
}
