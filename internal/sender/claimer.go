// Package sender drives campaign delivery: claiming unreached subscribers,
// composing their messages and pushing them through the relay under a bounded
// concurrency limit.
package sender

import (
	"context"
	"log/slog"

	"mailcast/internal/domain"
	"mailcast/internal/observability"
	"mailcast/internal/store"
)

type Store interface {
	NextSendingCampaign(ctx context.Context) (domain.Campaign, bool, error)
	NextUnclaimedSubscriber(ctx context.Context, campaignID, listID int, clause string, args []any) (domain.Subscriber, bool, error)
	ClaimSubscriber(ctx context.Context, campaignID, listID, segmentID, subscriberID int) (int, bool, error)
	FinishCampaign(ctx context.Context, id int) (bool, error)
	FinalizeDelivery(ctx context.Context, in store.DeliveryOutcome) error
}

type SegmentResolver interface {
	Resolve(ctx context.Context, segmentID, argOffset int) (string, []any, error)
}

type Claimer struct {
	Store    Store
	Segments SegmentResolver
}

// ClaimNext reserves one unreached subscriber of a sending campaign by
// inserting its delivery record. A lost claim race is not an error; the next
// candidate is tried on the spot. A campaign with no candidates left is moved
// to finished and the next sending campaign is considered. domain.ErrNoWork
// means nothing is currently claimable anywhere.
func (c *Claimer) ClaimNext(ctx context.Context) (*domain.ClaimedUnit, error) {
	for {
		campaign, found, err := c.Store.NextSendingCampaign(ctx)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, domain.ErrNoWork
		}

		// the subscriber query binds list and campaign ids first
		clause, args, err := c.Segments.Resolve(ctx, campaign.SegmentID, 2)
		if err != nil {
			return nil, err
		}

		for {
			sub, found, err := c.Store.NextUnclaimedSubscriber(ctx, campaign.ID, campaign.ListID, clause, args)
			if err != nil {
				return nil, err
			}
			if !found {
				finished, err := c.Store.FinishCampaign(ctx, campaign.ID)
				if err != nil {
					return nil, err
				}
				if finished {
					observability.CampaignsFinished.Inc()
					slog.Info("campaign finished", "campaign_id", campaign.ID, "campaign", campaign.CID)
				}
				break
			}

			recordID, won, err := c.Store.ClaimSubscriber(ctx, campaign.ID, campaign.ListID, campaign.SegmentID, sub.ID)
			if err != nil {
				return nil, err
			}
			if !won {
				// concurrent claimer got there first; pick another candidate
				observability.Claims.WithLabelValues("race_lost").Inc()
				continue
			}

			observability.Claims.WithLabelValues("claimed").Inc()
			return &domain.ClaimedUnit{
				RecordID:   recordID,
				CampaignID: campaign.ID,
				ListID:     campaign.ListID,
				SegmentID:  campaign.SegmentID,
				Subscriber: sub,
			}, nil
		}
	}
}
