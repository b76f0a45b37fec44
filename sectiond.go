// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/background"
	"github.com/sectionnet/sectiond/chunkstore"
	"github.com/sectionnet/sectiond/comms"
	"github.com/sectionnet/sectiond/configuration"
	"github.com/sectionnet/sectiond/dispatch"
	"github.com/sectionnet/sectiond/dkg"
	"github.com/sectionnet/sectiond/dysfunction"
	"github.com/sectionnet/sectiond/economy"
	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/knowledge"
	"github.com/sectionnet/sectiond/membership"
	"github.com/sectionnet/sectiond/mode"
	"github.com/sectionnet/sectiond/register"
	"github.com/sectionnet/sectiond/replication"
	"github.com/sectionnet/sectiond/sectionchain"
	"github.com/sectionnet/sectiond/storage"
	"github.com/sectionnet/sectiond/transfer"
	"github.com/sectionnet/sectiond/wire"
	"github.com/sectionnet/sectiond/xorname"
)

// transport key files hang off the data directory
const (
	curvePublicFile  = "curve.public"
	curvePrivateFile = "curve.private"
)

// node - all running components of one sectiond instance
//
// the section fields stay nil until the node founds a network,
// restores persisted state or joins through a bootstrap contact
type node struct {
	sync.RWMutex
	log *logger.L
	cfg *configuration.Configuration

	identity *keyshare.NodeKeypair
	reward   *keyshare.Keypair

	chunks     *chunkstore.Store
	registers  *register.Store
	tracker    *dysfunction.Tracker
	gateway    *economy.Gateway
	engine     *dkg.Engine
	dispatcher *dispatch.Dispatcher
	replicator *replication.Controller
	pool       *comms.Pool
	server     *comms.Server

	chain   *sectionchain.Chain
	know    *knowledge.Knowledge
	manager *membership.Manager
	replica *transfer.Replica

	// key shares from completed generations, waiting for handover
	pendingShares map[keyshare.PublicKey]keyshare.SectionKeyShare

	sapFile string
}

func runNode(globals *globalFlags) error {
	if "" == globals.configFile {
		return fault.ErrMissingConfigurationFile
	}

	cfg, err := configuration.GetConfiguration(globals.configFile)
	if nil != err {
		return err
	}

	err = logger.Initialise(logger.Configuration{
		Directory: cfg.Logging.Directory,
		File:      cfg.Logging.File,
		Size:      cfg.Logging.Size,
		Count:     cfg.Logging.Count,
		Console:   cfg.Logging.Console,
		Levels:    cfg.Logging.Levels,
	})
	if nil != err {
		return err
	}
	defer logger.Finalise()

	log := logger.New("main")
	log.Info("starting…")

	// deny a second instance on the same data directory
	lockFile, err := os.OpenFile(cfg.PidFile, os.O_WRONLY|os.O_EXCL|os.O_CREATE, 0600)
	if nil != err {
		if os.IsExist(err) {
			return fault.ErrAlreadyRunning
		}
		return err
	}
	fmt.Fprintf(lockFile, "%d\n", os.Getpid())
	lockFile.Close()
	defer os.Remove(cfg.PidFile)

	err = mode.Initialise(cfg.Chain)
	if nil != err {
		return err
	}
	defer mode.Finalise()

	err = storage.Initialise(cfg.Storage.Database)
	if nil != err {
		return err
	}
	defer storage.Finalise()

	n, err := assemble(log, cfg)
	if nil != err {
		return err
	}
	defer n.pool.CloseAll()

	processes := background.Processes{
		n.dispatcher,
		n.engine,
		n.server,
		&dysfunction.Checker{
			Tracker: n.tracker,
			Report:  n.reportDysfunction,
		},
	}
	if "" != cfg.Bootstrap.Domain {
		lookuper := knowledge.NewLookuper(logger.New("bootstrap"), net.LookupTXT)
		processes = append(processes,
			knowledge.NewBootstrapper(cfg.Bootstrap.Domain, lookuper, n.bootstrapContacts))
	}

	started := background.Start(processes, nil)
	defer started.Stop()

	// statically configured contacts need no DNS round trip
	if 0 != len(cfg.Bootstrap.Contacts) {
		go n.staticContacts(cfg.Bootstrap.Contacts)
	}

	log.Info("running…")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Infof("signal: %s", received)

	mode.Set(mode.Stopped)
	n.replicator.Wait()
	log.Info("shutting down…")
	return nil
}

// assemble - build all components and restore or found the section
func assemble(log *logger.L, cfg *configuration.Configuration) (*node, error) {

	identity, err := loadNodeIdentity(cfg.Node.PublicKey, cfg.Node.PrivateKey, uint8(cfg.Node.Age))
	if nil != err {
		return nil, err
	}
	log.Infof("node name: %s", identity.Name)

	reward, err := loadRewardKeypair(cfg.Economy.RewardPublicKey, cfg.Economy.RewardPrivateKey)
	if nil != err {
		return nil, err
	}

	curvePublic, curvePrivate, err := transportKeys(cfg.DataDirectory)
	if nil != err {
		return nil, err
	}

	chunks, err := chunkstore.New(cfg.Storage.ChunkDirectory, cfg.Storage.ChunkQuota)
	if nil != err {
		return nil, err
	}

	n := &node{
		log:           log,
		cfg:           cfg,
		identity:      identity,
		reward:        reward,
		chunks:        chunks,
		tracker:       dysfunction.New(),
		gateway:       economy.NewGatewayWithRate(rate.Limit(cfg.Economy.WriteRate), cfg.Economy.WriteBurst),
		pendingShares: make(map[keyshare.PublicKey]keyshare.SectionKeyShare),
		sapFile:       cfg.Storage.ChainFile + ".sap",
	}

	n.registers = register.NewStore(n.reportActorIssue)
	err = n.registers.Restore()
	if nil != err {
		return nil, err
	}

	n.pool = comms.NewPool(identity, curvePublic, curvePrivate, n.sectionKey)
	n.pool.SetTimeout(time.Duration(cfg.Timeouts.Query) * time.Second)

	n.replicator = replication.New(identity.Name, chunks, nodeTransport{n}, func(peer xorname.Name) {
		n.tracker.TrackIssue(peer, dysfunction.Communication)
	})

	n.engine = dkg.NewEngine(identity, dkg.Handlers{
		Send:      n.sendDkg,
		OnOutcome: n.onDkgOutcome,
		OnFailure: n.onDkgFailure,
	})

	n.dispatcher = dispatch.New(n.handleCmd, n.onCmdFault)

	n.server = comms.NewServer(n.request)
	err = n.server.Initialise(curvePrivate, curvePublic, cfg.Node.Listen)
	if nil != err {
		return nil, err
	}

	switch {
	case fileExists(cfg.Storage.ChainFile) && fileExists(n.sapFile):
		err = n.restoreSection()
	case "" == cfg.Bootstrap.Domain && 0 == len(cfg.Bootstrap.Contacts):
		err = n.foundNetwork(curvePublic)
	default:
		// wait in joining mode for a bootstrap contact
	}
	if nil != err {
		return nil, err
	}

	return n, nil
}

// transportKeys - read the CURVE keypair, generating on first start
func transportKeys(dataDirectory string) ([]byte, []byte, error) {
	publicFile := filepath.Join(dataDirectory, curvePublicFile)
	privateFile := filepath.Join(dataDirectory, curvePrivateFile)

	if !fileExists(publicFile) && !fileExists(privateFile) {
		err := comms.MakeKeyPair(publicFile, privateFile)
		if nil != err {
			return nil, nil, err
		}
	}

	data, err := ioutil.ReadFile(publicFile)
	if nil != err {
		return nil, nil, err
	}
	publicKey, err := comms.ReadPublicKey(string(data))
	if nil != err {
		return nil, nil, err
	}

	data, err = ioutil.ReadFile(privateFile)
	if nil != err {
		return nil, nil, err
	}
	privateKey, err := comms.ReadPrivateKey(string(data))
	if nil != err {
		return nil, nil, err
	}
	return publicKey, privateKey, nil
}

// announceAddress - the address other nodes should dial
func (n *node) announceAddress() string {
	if 0 != len(n.cfg.Node.Announce) {
		return n.cfg.Node.Announce[0]
	}
	return n.cfg.Node.Listen[0]
}

// foundNetwork - no peers are configured, so this node starts a new
// network as the sole elder of the whole name space
func (n *node) foundNetwork(curvePublic []byte) error {
	pkSet, secrets, err := keyshare.GenerateKeySet(0, 1)
	if nil != err {
		return err
	}
	share := keyshare.SectionKeyShare{
		Public: pkSet,
		Secret: secrets[0],
	}

	member := knowledge.MemberInfo{
		Name:         n.identity.Name,
		Addr:         n.announceAddress(),
		TransportKey: curvePublic,
		State:        knowledge.StateJoined,
	}
	sap := knowledge.SAP{
		Prefix:       xorname.Prefix{},
		PublicKeySet: pkSet,
		Elders:       map[xorname.Name]string{n.identity.Name: member.Addr},
		Members:      map[xorname.Name]knowledge.MemberInfo{n.identity.Name: member},
		Generation:   0,
	}

	payload := sap.Pack()
	sigShare, err := share.SignShare(payload)
	if nil != err {
		return err
	}
	sig, err := pkSet.Combine(payload, [][]byte{sigShare.Share})
	if nil != err {
		return err
	}
	signed := knowledge.SectionSigned{SAP: sap, Sig: sig}

	chain := sectionchain.New(pkSet.PublicKey())
	n.log.Infof("founding a new network, section key: %s", pkSet.PublicKey())
	return n.setSection(signed, chain, &share)
}

// restoreSection - reload the persisted chain and signed SAP
//
// a key share is never persisted; if this node was an elder the next
// churn triggers a fresh generation
func (n *node) restoreSection() error {
	chain, err := sectionchain.Load(n.cfg.Storage.ChainFile)
	if nil != err {
		return err
	}
	data, err := ioutil.ReadFile(n.sapFile)
	if nil != err {
		return err
	}
	signed, _, err := knowledge.UnpackSectionSigned(data)
	if nil != err {
		return err
	}
	n.log.Infof("restored section: %s generation: %d",
		signed.SAP.Prefix, signed.SAP.Generation)
	return n.setSection(signed, chain, nil)
}

// setSection - bring up every component that needs section state
func (n *node) setSection(signed knowledge.SectionSigned, chain *sectionchain.Chain, share *keyshare.SectionKeyShare) error {
	know, err := knowledge.New(signed, chain)
	if nil != err {
		return err
	}

	keyShare := keyshare.SectionKeyShare{}
	if nil != share {
		keyShare = *share
	}
	replica := transfer.New(keyShare, chain, n.reportActorIssue)
	err = replica.Restore()
	if nil != err {
		return err
	}

	manager := membership.New(n.identity.Name, know, share, membership.Handlers{
		Broadcast: func(message []byte) {
			n.pool.Broadcast(wire.SysPropose, message)
		},
		OnChurn:          n.onChurn,
		OnKeyChange:      n.onKeyChange,
		NotifyNeighbours: n.notifyNeighbours,
		StartDkg:         n.startDkg,
	})

	n.Lock()
	n.chain = chain
	n.know = know
	n.replica = replica
	n.manager = manager
	n.Unlock()

	n.dispatcher.SetElder(manager.IsElder())
	n.persistSection()
	n.connectMembers()
	mode.Set(mode.Normal)
	return nil
}

// connectMembers - open connections to the rest of our section so
// share broadcasts reach every elder and adult
func (n *node) connectMembers() {
	n.RLock()
	know := n.know
	n.RUnlock()
	if nil == know {
		return
	}

	for name := range know.OurSection().SAP.Members {
		if name == n.identity.Name {
			continue
		}
		err := n.connect(name)
		if nil != err {
			n.log.Warnf("connect member %s error: %s", name, err)
		}
	}
}

// joined - section state is available
func (n *node) joined() bool {
	n.RLock()
	defer n.RUnlock()
	return nil != n.know
}

// sectionKey - current section key, zero before joining
func (n *node) sectionKey() keyshare.PublicKey {
	n.RLock()
	defer n.RUnlock()
	if nil == n.know {
		return keyshare.PublicKey{}
	}
	return n.know.SectionKey()
}

// persistSection - write the chain and our signed SAP to disk
func (n *node) persistSection() {
	n.RLock()
	chain := n.chain
	know := n.know
	n.RUnlock()
	if nil == know {
		return
	}

	err := chain.Save(n.cfg.Storage.ChainFile)
	if nil != err {
		n.log.Errorf("chain save error: %s", err)
	}
	err = ioutil.WriteFile(n.sapFile, know.OurSection().Pack(), 0600)
	if nil != err {
		n.log.Errorf("sap save error: %s", err)
	}
}

// nodeTransport - replication transport that dials on demand; the
// pool alone cannot, it has no access to member addresses
type nodeTransport struct {
	n *node
}

func (t nodeTransport) Push(peer xorname.Name, chunk chunkstore.Chunk) error {
	err := t.n.connect(peer)
	if nil != err {
		return err
	}
	return t.n.pool.Push(peer, chunk)
}

func (t nodeTransport) Fetch(peer xorname.Name, address chunkstore.Address) (chunkstore.Chunk, error) {
	err := t.n.connect(peer)
	if nil != err {
		return chunkstore.Chunk{}, err
	}
	return t.n.pool.Fetch(peer, address)
}

// connect - ensure a pool connection to a member of a known section
func (n *node) connect(peer xorname.Name) error {
	if n.pool.Connected(peer) {
		return nil
	}

	n.RLock()
	know := n.know
	n.RUnlock()
	if nil == know {
		return fault.ErrNotInitialised
	}

	sap, err := know.SectionFor(peer)
	if nil != err {
		return err
	}
	member, ok := sap.Members[peer]
	if !ok {
		return fault.ErrNotASection
	}
	if 0 == len(member.TransportKey) {
		return fault.ErrNotConnected
	}
	return n.pool.Dial(peer, member.Addr, member.TransportKey)
}

// sendDkg - deliver one generation message to a participant
func (n *node) sendDkg(to xorname.Name, payload []byte) {
	if to == n.identity.Name {
		err := n.engine.Receive(payload)
		if nil != err {
			n.log.Errorf("dkg loopback error: %s", err)
		}
		return
	}
	err := n.connect(to)
	if nil == err {
		err = n.pool.Send(to, wire.SysDkgMessage, payload)
	}
	if nil != err {
		n.log.Warnf("dkg send to %s error: %s", to, err)
		n.tracker.TrackIssue(to, dysfunction.Dkg)
	}
}

// onDkgOutcome - a generation completed; propose the new SAP signed
// with the brand new key
func (n *node) onDkgOutcome(id dkg.SessionID, outcome *dkg.Outcome) {
	share := keyshare.SectionKeyShare{
		Public: outcome.PublicKeySet,
		Secret: outcome.SecretShare,
	}

	n.Lock()
	n.pendingShares[share.Public.PublicKey()] = share
	manager := n.manager
	n.Unlock()
	if nil == manager {
		return
	}

	manager.AddPendingKeyShare(share)

	current := manager.CurrentSAP()
	elders := make(map[xorname.Name]string, len(id.Candidates))
	for _, name := range id.Candidates {
		member, ok := current.Members[name]
		if !ok {
			n.log.Errorf("dkg candidate %s is not a member", name)
			return
		}
		elders[name] = member.Addr
	}

	sap := knowledge.SAP{
		Prefix:       current.Prefix,
		PublicKeySet: outcome.PublicKeySet,
		Elders:       elders,
		Members:      current.Members,
		Generation:   id.Generation,
	}
	err := manager.ProposeSectionInfo(sap, share)
	if nil != err {
		n.log.Errorf("section info proposal error: %s", err)
	}
}

// onDkgFailure - count non-participants against their record
func (n *node) onDkgFailure(id dkg.SessionID, nonParticipants []xorname.Name) {
	n.log.Warnf("dkg generation %d failed, non participants: %v",
		id.Generation, nonParticipants)
	for _, name := range nonParticipants {
		n.tracker.TrackIssue(name, dysfunction.Dkg)
	}
}

// startDkg - the elder set must change, run a generation
func (n *node) startDkg(id dkg.SessionID) {
	err := n.engine.Start(id)
	if nil != err {
		n.log.Errorf("dkg start error: %s", err)
	}
}

// onChurn - members changed; move chunk custody and keep the
// dysfunction tracker aligned
func (n *node) onChurn(event membership.ChurnEvent) {
	for _, name := range event.Joined {
		n.tracker.AddNode(name)
	}
	for _, name := range event.Left {
		n.tracker.RemoveNode(name)
		n.pool.Disconnect(name)
	}

	n.replicator.Churn(replication.ChurnEvent{
		Joined: event.Joined,
		Left:   event.Left,
		Adults: event.Adults,
	})

	n.RLock()
	manager := n.manager
	n.RUnlock()
	n.dispatcher.SetElder(manager.IsElder())
	n.persistSection()
	n.connectMembers()
}

// onKeyChange - a handover committed; swap in the matching key share
func (n *node) onKeyChange(signed knowledge.SectionSigned) {
	newKey := signed.Sig.PublicKey

	n.Lock()
	share, ok := n.pendingShares[newKey]
	if ok {
		delete(n.pendingShares, newKey)
	}
	replica := n.replica
	manager := n.manager
	n.Unlock()

	if ok && nil != replica {
		replica.SetKeyShare(share)
	}
	n.dispatcher.SetElder(manager.IsElder())
	n.persistSection()
	n.notifyNeighbours(signed)
}

// notifyNeighbours - push our new signed SAP with its proof chain
func (n *node) notifyNeighbours(signed knowledge.SectionSigned) {
	n.RLock()
	chain := n.chain
	n.RUnlock()
	if nil == chain {
		return
	}

	proof, err := chain.ProofChain(chain.Genesis(), signed.Sig.PublicKey)
	if nil != err {
		n.log.Errorf("proof chain error: %s", err)
		return
	}
	n.pool.Broadcast(wire.SysAntiEntropyUpdate, knowledge.PackAntiEntropy(signed, proof))
}

// reportDysfunction - an elder proposes Offline for failed members
func (n *node) reportDysfunction(names []xorname.Name) {
	n.RLock()
	manager := n.manager
	n.RUnlock()
	if nil == manager || !manager.IsElder() {
		return
	}

	sap := manager.CurrentSAP()
	for _, name := range names {
		member, ok := sap.Members[name]
		if !ok || knowledge.StateJoined != member.State {
			continue
		}
		member.State = knowledge.StateLeft
		err := manager.Propose(&membership.Offline{
			Generation: sap.Generation,
			Member:     member,
		})
		if nil != err {
			n.log.Errorf("offline proposal for %s error: %s", name, err)
		}
	}
}

// reportActorIssue - a client key presented invalid or conflicting
// data; clients are not tracked nodes so this is only logged
func (n *node) reportActorIssue(actor keyshare.PublicKey) {
	n.log.Warnf("misbehaving actor: %s", actor)
}

// staticContacts - configured contact records, same format as DNS
func (n *node) staticContacts(records []string) {
	contacts := make([]knowledge.Contact, 0, len(records))
	for _, record := range records {
		contact, err := knowledge.ParseContact(record)
		if nil != err {
			n.log.Errorf("contact record %q error: %s", record, err)
			continue
		}
		contacts = append(contacts, *contact)
	}
	n.bootstrapContacts(contacts)
}

// bootstrapContacts - probe contacts until one yields a section
func (n *node) bootstrapContacts(contacts []knowledge.Contact) {
	for _, contact := range contacts {
		if n.joined() {
			return
		}
		err := n.probeContact(contact)
		if nil != err {
			n.log.Warnf("bootstrap contact error: %s", err)
		}
	}
}

// probeContact - anti-entropy probe followed by a join request
func (n *node) probeContact(contact knowledge.Contact) error {
	if 0 == len(contact.TransportKey) {
		return fault.ErrNotConnected
	}

	address := ""
	if nil != contact.IPv4 {
		address = fmt.Sprintf("%s:%d", contact.IPv4, contact.Port)
	} else if nil != contact.IPv6 {
		address = fmt.Sprintf("[%s]:%d", contact.IPv6, contact.Port)
	} else {
		return fault.ErrInvalidIpAddress
	}

	// the peer's name is unknown before its SAP arrives; key the
	// connection on a name derived from its section key
	peer := xorname.NewName(contact.SectionKey[:])
	err := n.pool.Dial(peer, address, contact.TransportKey)
	if nil != err {
		return err
	}
	defer n.pool.Disconnect(peer)

	reply, err := n.pool.Request(peer, wire.NodeQuery, wire.SysAntiEntropyUpdate, nil)
	if nil != err {
		return err
	}
	if nil == reply || wire.DataResponse != reply.Type {
		return fault.ErrInvalidPeerResponse
	}
	signed, proof, err := knowledge.UnpackAntiEntropy(reply.Body)
	if nil != err {
		return err
	}

	err = n.adoptSection(signed, proof, contact.SectionKey)
	if nil != err {
		return err
	}

	// ask the section to admit this node
	return n.requestJoin()
}

// adoptSection - verify a signed SAP against the bootstrap anchor key
// and bring the section components up
func (n *node) adoptSection(signed knowledge.SectionSigned, proof []sectionchain.Entry, anchor keyshare.PublicKey) error {
	if 0 == len(proof) {
		return fault.ErrInvalidProofChain
	}

	chain := sectionchain.New(proof[0].Key)
	err := chain.Merge(proof)
	if nil != err {
		return err
	}
	// the DNS published key and the signing key must both descend
	// from the received genesis
	if !chain.HasKey(anchor) || !chain.HasKey(signed.Sig.PublicKey) {
		return fault.ErrUntrusted
	}

	n.log.Infof("joining section: %s generation: %d",
		signed.SAP.Prefix, signed.SAP.Generation)
	return n.setSection(signed, chain, nil)
}

// requestJoin - tell every elder of our section that we want in
func (n *node) requestJoin() error {
	n.RLock()
	know := n.know
	n.RUnlock()
	if nil == know {
		return fault.ErrNotInitialised
	}

	curvePublic, _, err := transportKeys(n.cfg.DataDirectory)
	if nil != err {
		return err
	}
	body := packJoinRequest(n.announceAddress(), curvePublic)

	sap := know.OurSection().SAP
	for name, addr := range sap.Elders {
		member := sap.Members[name]
		err := n.pool.Dial(name, addr, member.TransportKey)
		if nil != err {
			n.log.Warnf("dial elder %s error: %s", name, err)
			continue
		}
		err = n.pool.Send(name, wire.SysJoinRequest, body)
		if nil != err {
			n.log.Warnf("join request to %s error: %s", name, err)
		}
	}
	return nil
}
