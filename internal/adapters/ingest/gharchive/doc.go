// Package gharchive talks to the GH Archive hourly dumps
//
// Each hour is published as YYYY-MM-DD-H.json.gz: a gzip stream of newline
// delimited event objects. The package provides the pieces the scraper wires
// together:
//   - HourRef names one hour
//   - HTTPFetcher and DirFetcher open the compressed body of an hour
//   - GzipCodec inflates it
//   - JSONDecoder turns one line into an EventEnvelope, back-filling synthetic
//     actor and repo ids for legacy shapes
package gharchive
