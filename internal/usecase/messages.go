package usecase

import (
	"fmt"
	"strings"
	"time"

	"whatsapp-voice-subscription/internal/domain/model"
)

// User-facing texts.
const (
	msgNoQuota            = "You have no free summaries remaining. Use /subscribe to get unlimited summaries!"
	msgProcessing         = "Processing your voice message..."
	msgMediaMissing       = "Sorry, I couldn't process this audio message."
	msgTranscriptionError = "Sorry, I encountered an error while processing your voice message. Please try again."
	msgAlreadySubscribed  = "You are already subscribed to Premium."
	msgNotSubscribed      = "You are not currently subscribed to Premium."
	msgSubscriptionError  = "Sorry, there was an error creating your subscription link. Please try again later."
	msgSubscribeSuspended = "Your Premium subscription is suspended. Please check your PayPal account before subscribing again."
	msgUnsubscribed       = "Subscription cancelled. You now have the free plan with limited summaries."
	msgUnsubscribeError   = "Sorry, there was an error canceling your subscription. Please try again later."
	msgGenericError       = "Sorry, something went wrong. Please try again in a moment."

	msgDetailUsage = "Please specify a detail level: /detail [brief|normal|detailed]\n\n" +
		"• brief - Very concise, 1-2 sentences\n" +
		"• normal - Balanced summary with key points\n" +
		"• detailed - Comprehensive with supporting details"
	msgDetailInvalid = "Invalid detail level. Please use: brief, normal, or detailed"
	msgModeUsage     = "Please specify a mode: /mode [default|summary]\n\n" +
		"• default - Full transcription of your voice message\n" +
		"• summary - A short summary in the message's language"
	msgModeInvalid = "Invalid mode. Please use: default or summary"

	msgHelloUsage          = "Please send the code you received: /hello <CODE>"
	msgReferralInvalid     = "That referral code is not valid. Please check it and try again."
	msgReferralSelf        = "You cannot use your own referral code."
	msgReferralAlready     = "You have already used a referral code."
	msgReferralAccepted    = "Referral code accepted. Welcome aboard!"
	msgReferralBonusFormat = "🎁 Thanks for spreading the word! %d friends have joined with your code, so you get Premium until %s."

	msgRedirectCancelled = "You either cancelled the payment or it failed. Please try again."
	msgRedirectActivated = "Your Premium Access is now active! You can cancel it any time by using the /unsubscribe command!"

	msgAdminDenied = "Unknown command. Send /status to see what I can do."
	msgAdminUsage  = "Admin actions: reset <quota> | grant <phone> <count>"
)

const helpText = "Please send a voice message for me to summarize, or use one of these commands:\n" +
	"• /status - View your status\n" +
	"• /mode [default|summary] - Transcribe or summarize\n" +
	"• /detail [brief|normal|detailed] - Set summary detail level\n" +
	"• /subscribe - Subscribe to Premium\n" +
	"• /unsubscribe - Unsubscribe from Premium\n" +
	"• /referral - Get your referral link\n" +
	"• /hello <CODE> - Redeem a friend's referral code"

var lifecycleMessages = map[model.LifecycleEvent]string{
	model.LifecycleActivated: "✨ Your Premium subscription is now active! You have unlimited voice message summaries.",
	model.LifecycleCancelled: "Your Premium subscription has been cancelled. You still have access to free summaries.",
	model.LifecycleSuspended: "⚠️ Your Premium subscription has been suspended. Please check your PayPal account.",
	model.LifecycleExpired:   "Your Premium subscription has expired. Use /subscribe to reactivate Premium.",
}

func transcriptMessage(mode model.ResponseMode, text string) string {
	if mode == model.ModeSummary {
		return "📝 *Voice Message Summary*\n\n" + text
	}
	return "📝 *Voice Message Transcription*\n\n" + text
}

func preferenceMessage(key model.PreferenceKey, u *model.User) string {
	if key == model.PreferenceMode {
		return "✅ Response mode set to: " + string(u.Mode)
	}
	return "✅ Summary detail level set to: " + string(u.Detail)
}

func subscribeMessage(approvalURL string, reused bool) string {
	if reused {
		return "You already have a pending subscription. Complete it here:\n" + approvalURL
	}
	return "Subscribe to Premium for unlimited voice message summaries:\n" + approvalURL
}

func statusMessage(u *model.User, ref model.ReferralSummary, now time.Time) string {
	plan := "Free"
	free := fmt.Sprintf("%d", u.FreeQuota)
	switch {
	case u.Subscription.Status == model.SubscriptionActive:
		plan, free = "Premium", "Unlimited"
	case u.HasBonus(now):
		plan, free = "Premium (referral bonus)", "Unlimited"
	}

	lines := []string{
		"📊 Your Status",
		"",
		"✨ Plan: " + plan,
		"🎁 Free Summaries: " + free,
		"🗣️ Mode: " + string(u.Mode),
		"📝 Detail Level: " + string(u.Detail),
		fmt.Sprintf("📈 Total Summaries Used: %d", u.TotalUsed),
		"💳 Subscription: " + string(u.Subscription.Status),
	}
	if u.Subscription.NextBillingAt != nil && u.Subscription.Status == model.SubscriptionActive {
		lines = append(lines, "📅 Next billing: "+u.Subscription.NextBillingAt.Format("2006-01-02"))
	}
	if u.BonusUntil != nil && u.HasBonus(now) {
		lines = append(lines, "⏳ Bonus until: "+u.BonusUntil.Format("2006-01-02"))
	}
	if ref.Code != "" {
		lines = append(lines, fmt.Sprintf("👥 Referrals: %d (code %s)", ref.Count, ref.Code))
	}
	lines = append(lines,
		"",
		"Commands:",
		"• /status - View your status",
		"• /mode [default|summary] - Transcribe or summarize",
		"• /detail [brief|normal|detailed] - Set summary detail level",
		"• /subscribe - Subscribe to Premium",
		"• /unsubscribe - Unsubscribe from Premium",
		"• /referral - Get your referral link",
		"• /hello <CODE> - Redeem a friend's referral code",
	)
	return strings.Join(lines, "\n")
}

func referralMessage(ref model.ReferralSummary) string {
	return fmt.Sprintf("Invite friends with your code *%s*.\nEvery %d friends who join give you a month of Premium.\n\nShare this link:\n%s",
		ref.Code, ref.Threshold, ref.Link)
}
