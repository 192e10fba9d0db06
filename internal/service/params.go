package service

import "net/url"

// PreserveParams carries the query parameters of incomingURL onto
// destinationURL so tracking tags survive the redirect. Parameters already
// present on the destination win on key collision.
//
// Total by design: any parse failure returns destinationURL unchanged,
// because a redirect without tags still beats no redirect.
func PreserveParams(incomingURL, destinationURL string) string {
	in, err := url.Parse(incomingURL)
	if err != nil {
		return destinationURL
	}

	dst, err := url.Parse(destinationURL)
	if err != nil {
		return destinationURL
	}

	inQuery := in.Query()
	if len(inQuery) == 0 {
		return destinationURL
	}

	dstQuery := dst.Query()
	merged := false

	for key, values := range inQuery {
		if _, ok := dstQuery[key]; ok {
			continue
		}

		dstQuery[key] = values
		merged = true
	}

	if !merged {
		return destinationURL
	}

	dst.RawQuery = dstQuery.Encode()

	return dst.String()
}
