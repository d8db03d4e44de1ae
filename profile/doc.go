// Package profile describes the ANT+ device profiles the node can open a
// channel for, and encodes the fitness equipment (FE-C) command pages a
// host sends to a trainer.
//
// A [Profile] carries everything the channel configuration sequence needs:
// device type, channel period, RF frequency and search timeout.
//
//	p, err := profile.Lookup("HR")
//	num, err := node.OpenChannel(ctx, 0, p, 0)
//
// Grade and user configuration requests are acknowledged data messages:
//
//	node.SendTx(ctx, num, profile.SetGrade(byte(num), -5.0))
package profile
