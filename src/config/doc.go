// Package config defines the configuration for a hashgossip node.
//
// The command line fills a Config through viper, and Go code embedding a node
// builds one directly. On top of these options, the node relies on a data
// directory, defined by Config.DataDir, where it expects to find a few
// additional files:
//
//  priv_key // a plain text file containing the raw private key (cf. hashgossip keygen).
//  peers.json // a JSON file containing the current address book.
//  peers.previous.json // (optional) the address book of the previous software version.
//  hashgossip.toml // (optional) values for any of the flags of the run command.
package config
