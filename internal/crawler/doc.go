// Package crawler walks configured forums and extracts their posts.
//
// # Architecture
//
// A ForumCrawler owns one forum for one run. It is a small state machine:
//
//	ListPage -> DiscoverThreadLinks -> (ThreadPage -> ExtractPosts)* -> Paginate -> Done | Aborted
//
// Listing pages are followed through their next-page link until a page has
// none, the page cap is reached, or a listing URL repeats. Every listing URL
// of the forum starts its own chain. Each thread link found on a listing page
// is fetched once per run and its post containers become model.Post values
// handed to the sink. When attachment collection is enabled, attachment
// blocks inside a post become model.AttachmentRef values handed to the
// quarantine.
//
// # Failure handling
//
// Transient fetch failures are retried with exponential backoff. A page that
// still fails is skipped and counted; a failed listing page ends its chain.
// Only a run of consecutive failed pages longer than the configured threshold
// aborts the forum, and a forum abort never affects other forums.
//
// # Politeness
//
// All requests of one forum, including attachment downloads, share a rate
// limiter. Forum pages are processed in pagination order and posts in
// document order.
//
// # Checkpoints
//
// The crawler saves its checkpoint after every listing page and on exit, so
// an interrupted run resumes at the listing page it was working on.
//
// Design decision: A resumed run refetches the threads of that listing
// page. The sink drops posts it has already stored by their dedup key, so
// the checkpoint does not need to track individual threads.
//
// Design decision: Selectors are lists tried in order, and the first one
// that matches wins for the whole page. Forum themes change markup between
// versions, so a configuration can name the old and new selector side by
// side without the crawler mixing containers from both.
package crawler
