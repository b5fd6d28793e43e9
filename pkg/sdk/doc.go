// Package adtokens is a Go client for the adtokens recommendation API.
//
// The client speaks the public HTTP API: contextual search (plain, streamed
// and batched), similar products, click and conversion attribution, relevance
// feedback and health.
//
//	client, _ := adtokens.New("https://ads.example.com", adtokens.WithAPIKey(key))
//	res, _ := client.Search(ctx, adtokens.SearchRequest{
//	    Query: "waterproof trail running shoes",
//	    Limit: 5,
//	    Filters: &adtokens.Filters{MaxPrice: adtokens.Float(150)},
//	})
//	for _, r := range res.Results {
//	    fmt.Println(r.Title, r.RelevanceScore)
//	}
//	_, _ = client.Click(ctx, res.Results[0].ImpressionID, res.RequestID)
//
// # Streaming
//
//	md, err := client.Stream(ctx, req, func(requestID string, r adtokens.Result) error {
//	    render(r)
//	    return nil
//	})
package adtokens
